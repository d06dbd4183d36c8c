package contracts

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/mesh/msg"
	"github.com/osmosis-labs/mesh-harness/framework/simnet"
)

// Vault holds bonded tokens and lends them out as claims to leinholders,
// such as the provider contract.
type Vault struct{}

type vaultConfig struct {
	Denom string `json:"denom"`
}

type release struct {
	Amount    sdkmath.Int `json:"amount"`
	ReleaseAt uint64      `json:"release_at"`
}

type vaultAccount struct {
	Bonded   sdkmath.Int            `json:"bonded"`
	Claims   map[string]sdkmath.Int `json:"claims"`
	Releases []release              `json:"releases"`
}

var (
	vaultConfigItem simnet.Item[vaultConfig] = "config"
	vaultAccounts   simnet.Map[vaultAccount] = "accounts"
)

func newVaultAccount() vaultAccount {
	return vaultAccount{Bonded: sdkmath.ZeroInt(), Claims: make(map[string]sdkmath.Int)}
}

func (a vaultAccount) claimed() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, c := range a.Claims {
		total = total.Add(c)
	}
	return total
}

// locked sums the releases that have not matured at now (unix seconds).
func (a vaultAccount) locked(now uint64) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, r := range a.Releases {
		if r.ReleaseAt > now {
			total = total.Add(r.Amount)
		}
	}
	return total
}

func (a vaultAccount) free(now uint64) sdkmath.Int {
	return a.Bonded.Sub(a.claimed()).Sub(a.locked(now))
}

func (a *vaultAccount) pruneReleases(now uint64) {
	kept := a.Releases[:0]
	for _, r := range a.Releases {
		if r.ReleaseAt > now {
			kept = append(kept, r)
		}
	}
	a.Releases = kept
}

func loadVaultAccount(store simnet.KVStore, owner string) (vaultAccount, error) {
	acct, ok, err := vaultAccounts.May(store, owner)
	if err != nil {
		return acct, err
	}
	if !ok {
		return newVaultAccount(), nil
	}
	if acct.Claims == nil {
		acct.Claims = make(map[string]sdkmath.Int)
	}
	return acct, nil
}

func blockSeconds(ctx simnet.Ctx) uint64 {
	return uint64(ctx.Env.Time.Unix())
}

func (Vault) Instantiate(ctx simnet.Ctx, _ simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.VaultInstantiate](bz)
	if err != nil {
		return nil, err
	}
	if m.Denom == "" {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "denom is required")
	}
	return simnet.NewResponse(), vaultConfigItem.Save(ctx.Store, vaultConfig{Denom: m.Denom})
}

func (v Vault) Execute(ctx simnet.Ctx, info simnet.MessageInfo, bz []byte) (*simnet.Response, error) {
	m, err := decode[msg.VaultExecute](bz)
	if err != nil {
		return nil, err
	}
	cfg, err := vaultConfigItem.Load(ctx.Store)
	if err != nil {
		return nil, err
	}

	switch {
	case m.Bond != nil:
		return v.bond(ctx, cfg, info)
	case m.Unbond != nil:
		return v.unbond(ctx, cfg, info.Sender, m.Unbond.Amount)
	case m.GrantClaim != nil:
		return v.grantClaim(ctx, info.Sender, *m.GrantClaim)
	case m.ReleaseClaim != nil:
		return v.releaseClaim(ctx, info.Sender, *m.ReleaseClaim)
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown vault message")
}

func (Vault) bond(ctx simnet.Ctx, cfg vaultConfig, info simnet.MessageInfo) (*simnet.Response, error) {
	coin, err := singleCoin(info.Funds, cfg.Denom)
	if err != nil {
		return nil, err
	}
	acct, err := loadVaultAccount(ctx.Store, info.Sender)
	if err != nil {
		return nil, err
	}
	acct.Bonded = acct.Bonded.Add(coin.Amount)
	if err := vaultAccounts.Save(ctx.Store, acct, info.Sender); err != nil {
		return nil, err
	}
	return simnet.NewResponse().
		AddAttribute("action", "bond").
		AddAttribute("amount", coin.String()), nil
}

func (Vault) unbond(ctx simnet.Ctx, cfg vaultConfig, owner string, amount sdkmath.Int) (*simnet.Response, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "amount must be positive")
	}
	acct, err := loadVaultAccount(ctx.Store, owner)
	if err != nil {
		return nil, err
	}
	now := blockSeconds(ctx)
	acct.pruneReleases(now)
	if free := acct.free(now); free.LT(amount) {
		return nil, errorsmod.Wrapf(ErrInsufficientTokens, "only %s of %s can be unbonded", free, amount)
	}
	acct.Bonded = acct.Bonded.Sub(amount)
	if err := vaultAccounts.Save(ctx.Store, acct, owner); err != nil {
		return nil, err
	}
	return simnet.NewResponse().
		AddMessage(simnet.BankSend{ToAddress: owner, Amount: sdk.NewCoins(sdk.NewCoin(cfg.Denom, amount))}).
		AddAttribute("action", "unbond"), nil
}

func (Vault) grantClaim(ctx simnet.Ctx, owner string, m msg.GrantClaim) (*simnet.Response, error) {
	if m.Amount.IsNil() || !m.Amount.IsPositive() {
		return nil, errorsmod.Wrap(ErrInvalidMessage, "amount must be positive")
	}
	if err := ctx.Querier.ValidateAddress(m.Leinholder); err != nil {
		return nil, err
	}
	acct, err := loadVaultAccount(ctx.Store, owner)
	if err != nil {
		return nil, err
	}
	now := blockSeconds(ctx)
	if free := acct.free(now); free.LT(m.Amount) {
		return nil, errorsmod.Wrapf(ErrInsufficientTokens, "only %s of %s can be claimed", free, m.Amount)
	}
	current, ok := acct.Claims[m.Leinholder]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	acct.Claims[m.Leinholder] = current.Add(m.Amount)
	if err := vaultAccounts.Save(ctx.Store, acct, owner); err != nil {
		return nil, err
	}

	receive, err := encode(msg.ProviderExecute{ReceiveClaim: &msg.ReceiveClaim{
		Owner:     owner,
		Amount:    m.Amount,
		Validator: m.Validator,
	}})
	if err != nil {
		return nil, err
	}
	ctx.Logger.Debug("claim granted",
		zap.String("owner", owner),
		zap.String("leinholder", m.Leinholder),
		zap.Stringer("amount", m.Amount))
	return simnet.NewResponse().
		AddMessage(simnet.WasmExecute{Contract: m.Leinholder, Msg: receive}).
		AddAttribute("action", "grant_claim"), nil
}

// releaseClaim is called by a leinholder. Tokens released with a future
// ReleaseAt stay locked until then.
func (Vault) releaseClaim(ctx simnet.Ctx, leinholder string, m msg.ReleaseClaim) (*simnet.Response, error) {
	acct, ok, err := vaultAccounts.May(ctx.Store, m.Owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorsmod.Wrapf(ErrUnauthorized, "%s has no claims from %s", leinholder, m.Owner)
	}
	current, ok := acct.Claims[leinholder]
	if !ok {
		return nil, errorsmod.Wrapf(ErrUnauthorized, "%s has no claims from %s", leinholder, m.Owner)
	}
	if current.LT(m.Amount) {
		return nil, errorsmod.Wrapf(ErrInsufficientTokens, "claim of %s is smaller than %s", current, m.Amount)
	}

	if rest := current.Sub(m.Amount); rest.IsZero() {
		delete(acct.Claims, leinholder)
	} else {
		acct.Claims[leinholder] = rest
	}
	if m.ReleaseAt > blockSeconds(ctx) {
		acct.Releases = append(acct.Releases, release{Amount: m.Amount, ReleaseAt: m.ReleaseAt})
	}
	if err := vaultAccounts.Save(ctx.Store, acct, m.Owner); err != nil {
		return nil, err
	}
	return simnet.NewResponse().AddAttribute("action", "release_claim"), nil
}

func (Vault) Query(ctx simnet.Ctx, bz []byte) ([]byte, error) {
	q, err := decode[msg.VaultQuery](bz)
	if err != nil {
		return nil, err
	}
	switch {
	case q.Config != nil:
		cfg, err := vaultConfigItem.Load(ctx.Store)
		if err != nil {
			return nil, err
		}
		return encode(msg.VaultConfigResponse{Denom: cfg.Denom})
	case q.Account != nil:
		acct, err := loadVaultAccount(ctx.Store, q.Account.Address)
		if err != nil {
			return nil, err
		}
		now := blockSeconds(ctx)
		return encode(msg.VaultAccountResponse{
			Bonded:  acct.Bonded,
			Claimed: acct.claimed(),
			Locked:  acct.locked(now),
			Free:    acct.free(now),
		})
	}
	return nil, errorsmod.Wrap(ErrInvalidMessage, "unknown vault query")
}
