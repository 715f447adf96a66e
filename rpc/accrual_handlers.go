package rpc

import (
	"errors"
	"net/http"
	"time"

	"stakeledger/native/accrual"
	"stakeledger/native/token"
	"stakeledger/observability"
)

type depositParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type accountAssetParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

type setReferrerParams struct {
	Caller   string `json:"caller"`
	Referred string `json:"referred"`
	Asset    string `json:"asset"`
}

type lookupParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
}

type setParamParams struct {
	Caller string `json:"caller"`
	Value  uint64 `json:"value"`
}

type approveParams struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type balanceOfParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

// writeLedgerError maps engine failures onto JSON-RPC errors, attaching the
// structured payloads EarlyClaim and ReferrerAlreadySet carry.
func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	var early *accrual.EarlyClaimError
	if errors.As(err, &early) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(),
			map[string]uint64{"nextEligibleUnix": early.NextEligibleUnix})
		return
	}
	var already *accrual.ReferrerAlreadySetError
	if errors.As(err, &already) {
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(),
			map[string]string{"referrer": encodeAddress(already.Referrer)})
		return
	}
	switch {
	case errors.Is(err, accrual.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, accrual.ErrZeroAmount),
		errors.Is(err, accrual.ErrNothingToClaim),
		errors.Is(err, accrual.ErrNothingToUnstake),
		errors.Is(err, accrual.ErrSelfReferring),
		errors.Is(err, accrual.ErrZeroReferrerBalance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, token.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Ledger().ObserveOperation(operation, outcome, time.Since(start).Seconds())
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params depositParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	start := time.Now()
	err = s.node.Deposit(caller, asset, amount)
	observe("deposit", start, err)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	record, err := s.node.Record(caller, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load record", err.Error())
		return
	}
	writeResult(w, req.ID, RecordResult{
		Account:            params.Caller,
		Asset:              params.Asset,
		Balance:            record.BalanceValue().String(),
		StakeTimestamp:     record.StakeTimestamp,
		LastClaimTimestamp: record.LastClaimTimestamp,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params accountAssetParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	start := time.Now()
	paid, err := s.node.Claim(caller, asset)
	observe("claim", start, err)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	observability.Ledger().AddRewardPaid(encodeAddress(asset), paid)
	writeResult(w, req.ID, ClaimResult{Paid: paid.String()})
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params accountAssetParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	start := time.Now()
	returned, err := s.node.Unstake(caller, asset)
	observe("unstake", start, err)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, UnstakeResult{Returned: returned.String()})
}

func (s *Server) handleSetReferrer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params setReferrerParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	referred, err := decodeAddress(params.Referred)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid referred address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	start := time.Now()
	err = s.node.SetReferrer(caller, referred, asset)
	observe("setReferrer", start, err)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ReferrerResult{Referrer: params.Caller, Linked: true})
}

func (s *Server) handlePreviewReward(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lookupParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	reward, err := s.node.RewardOf(account, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to compute reward", err.Error())
		return
	}
	writeResult(w, req.ID, RewardResult{
		AmountToClaim: reward.AmountToClaim.String(),
		CyclesPassed:  reward.CyclesPassed,
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lookupParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account address", err.Error())
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	record, err := s.node.Record(account, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load record", err.Error())
		return
	}
	writeResult(w, req.ID, RecordResult{
		Account:            params.Account,
		Asset:              params.Asset,
		Balance:            record.BalanceValue().String(),
		StakeTimestamp:     record.StakeTimestamp,
		LastClaimTimestamp: record.LastClaimTimestamp,
	})
}

func (s *Server) handleGetReferrer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lookupParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := decodeAddress(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account address", err.Error())
		return
	}
	referrer, linked, err := s.node.Referrer(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load referrer", err.Error())
		return
	}
	result := ReferrerResult{Linked: linked}
	if linked {
		result.Referrer = encodeAddress(referrer)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params, err := s.node.Params()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load parameters", err.Error())
		return
	}
	writeResult(w, req.ID, ParamsResult{RewardRate: params.RewardRate, ClaimLockTime: params.ClaimLockTime})
}

func (s *Server) handleSetRewardRate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSetParam(w, r, req, "setRewardRate", s.node.SetRewardRate)
}

func (s *Server) handleSetClaimLockTime(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleSetParam(w, r, req, "setClaimLockTime", s.node.SetClaimLockTime)
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request, req *RPCRequest, operation string, apply func([20]byte, uint64) error) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params setParamParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := decodeAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	start := time.Now()
	err = apply(caller, params.Value)
	observe(operation, start, err)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	updated, err := s.node.Params()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load parameters", err.Error())
		return
	}
	writeResult(w, req.ID, ParamsResult{RewardRate: updated.RewardRate, ClaimLockTime: updated.ClaimLockTime})
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params balanceOfParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	addr, err := decodeAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.node.TokenBalanceOf(asset, addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, BalanceResult{Asset: params.Asset, Address: params.Address, Balance: balance.String()})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.guardMutation(w, r, req) {
		return
	}
	var params approveParams
	if err := singleParam(req.Params, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := decodeAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset", err.Error())
		return
	}
	owner, err := decodeAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.node.TokenApprove(asset, owner, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	allowance, err := s.node.TokenAllowance(asset, owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load allowance", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"allowance": allowance.String()})
}
