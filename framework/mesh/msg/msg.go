// Package msg defines the JSON messages exchanged with the mesh-security
// contracts and the packets they send each other over the mesh channel.
package msg

import (
	"encoding/json"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// IBCAppVersion is the version negotiated on the mesh channel.
const IBCAppVersion = "mesh-security-v0.1"

// Contract names, used as labels and to look up artifacts.
const (
	ContractVault       = "mesh_vault"
	ContractProvider    = "mesh_provider"
	ContractSlasher     = "mesh_slasher"
	ContractConsumer    = "mesh_consumer"
	ContractMetaStaking = "meta_staking"
)

// Empty marshals as {} and is used for unit enum variants.
type Empty struct{}

// ValidatorAmount pairs a validator with an amount.
type ValidatorAmount struct {
	Validator string      `json:"validator"`
	Amount    sdkmath.Int `json:"amount"`
}

// --- vault ---

type VaultInstantiate struct {
	Denom string `json:"denom"`
}

type VaultExecute struct {
	Bond         *Empty        `json:"bond,omitempty"`
	Unbond       *Unbond       `json:"unbond,omitempty"`
	GrantClaim   *GrantClaim   `json:"grant_claim,omitempty"`
	ReleaseClaim *ReleaseClaim `json:"release_claim,omitempty"`
}

type Unbond struct {
	Amount sdkmath.Int `json:"amount"`
}

type GrantClaim struct {
	Leinholder string      `json:"leinholder"`
	Amount     sdkmath.Int `json:"amount"`
	Validator  string      `json:"validator"`
}

// ReleaseClaim frees a lien. A non-zero ReleaseAt (unix seconds) keeps the
// tokens locked until that time.
type ReleaseClaim struct {
	Owner     string      `json:"owner"`
	Amount    sdkmath.Int `json:"amount"`
	ReleaseAt uint64      `json:"release_at,omitempty"`
}

type VaultQuery struct {
	Config  *Empty        `json:"config,omitempty"`
	Account *AccountQuery `json:"account,omitempty"`
}

type AccountQuery struct {
	Address string `json:"address"`
}

type VaultConfigResponse struct {
	Denom string `json:"denom"`
}

type VaultAccountResponse struct {
	Bonded  sdkmath.Int `json:"bonded"`
	Claimed sdkmath.Int `json:"claimed"`
	Locked  sdkmath.Int `json:"locked"`
	Free    sdkmath.Int `json:"free"`
}

// --- provider ---

type ConsumerInfo struct {
	ConnectionID string `json:"connection_id"`
}

type SlasherInfo struct {
	CodeID uint64 `json:"code_id"`
	Msg    []byte `json:"msg"`
}

type ProviderInstantiate struct {
	Consumer        ConsumerInfo `json:"consumer"`
	Slasher         SlasherInfo  `json:"slasher"`
	Vault           string       `json:"vault"`
	UnbondingPeriod uint64       `json:"unbonding_period"`
	RewardsIBCDenom string       `json:"rewards_ibc_denom"`
}

type ProviderExecute struct {
	ReceiveClaim *ReceiveClaim `json:"receive_claim,omitempty"`
	Unstake      *Unstake      `json:"unstake,omitempty"`
	ClaimRewards *ClaimRewards `json:"claim_rewards,omitempty"`
}

type ReceiveClaim struct {
	Owner     string      `json:"owner"`
	Amount    sdkmath.Int `json:"amount"`
	Validator string      `json:"validator"`
}

type Unstake struct {
	Amount    sdkmath.Int `json:"amount"`
	Validator string      `json:"validator"`
}

type ClaimRewards struct {
	Validator string `json:"validator"`
}

type ProviderQuery struct {
	Config         *Empty        `json:"config,omitempty"`
	ListValidators *Empty        `json:"list_validators,omitempty"`
	Account        *AccountQuery `json:"account,omitempty"`
}

type ProviderConfigResponse struct {
	Consumer        ConsumerInfo `json:"consumer"`
	Vault           string       `json:"vault"`
	Slasher         string       `json:"slasher"`
	UnbondingPeriod uint64       `json:"unbonding_period"`
	RewardsIBCDenom string       `json:"rewards_ibc_denom"`
	Channel         string       `json:"channel,omitempty"`
}

type ListValidatorsResponse struct {
	Validators []string `json:"validators"`
}

type ProviderAccountResponse struct {
	Staked  []ValidatorAmount `json:"staked"`
	Rewards []ValidatorAmount `json:"rewards"`
}

// StakedOn returns the amount staked on validator.
func (r ProviderAccountResponse) StakedOn(validator string) sdkmath.Int {
	return amountFor(r.Staked, validator)
}

// RewardsOn returns the claimable rewards earned on validator.
func (r ProviderAccountResponse) RewardsOn(validator string) sdkmath.Int {
	return amountFor(r.Rewards, validator)
}

func amountFor(list []ValidatorAmount, validator string) sdkmath.Int {
	for _, va := range list {
		if va.Validator == validator {
			return va.Amount
		}
	}
	return sdkmath.ZeroInt()
}

// --- slasher ---

type SlasherInstantiate struct {
	Owner string `json:"owner"`
}

type SlasherQuery struct {
	Config *Empty `json:"config,omitempty"`
}

type SlasherConfigResponse struct {
	Owner string `json:"owner"`
}

// --- consumer ---

type ProviderInfo struct {
	PortID       string `json:"port_id"`
	ConnectionID string `json:"connection_id"`
}

type ConsumerInstantiate struct {
	Provider                   ProviderInfo      `json:"provider"`
	RemoteToLocalExchangeRate  sdkmath.LegacyDec `json:"remote_to_local_exchange_rate"`
	MetaStakingContractAddress string            `json:"meta_staking_contract_address"`
	ICS20Channel               string            `json:"ics20_channel"`
}

type ConsumerExecute struct {
	MeshConsumerReceiveRewards *ReceiveRewards `json:"mesh_consumer_receive_rewards,omitempty"`
}

type ReceiveRewards struct {
	Validator string `json:"validator"`
}

type ConsumerQuery struct {
	Config *Empty `json:"config,omitempty"`
}

type ConsumerConfigResponse struct {
	Provider                  ProviderInfo      `json:"provider"`
	MetaStaking               string            `json:"meta_staking"`
	RemoteToLocalExchangeRate sdkmath.LegacyDec `json:"remote_to_local_exchange_rate"`
	ICS20Channel              string            `json:"ics20_channel"`
	Channel                   string            `json:"channel,omitempty"`
}

// --- meta-staking ---

type MetaStakingInstantiate struct {
	LocalDenom                   string            `json:"local_denom"`
	ProviderDenom                string            `json:"provider_denom"`
	ConsumerProviderExchangeRate sdkmath.LegacyDec `json:"consumer_provider_exchange_rate"`
}

type MetaStakingExecute struct {
	Delegate                *Delegation         `json:"delegate,omitempty"`
	Undelegate              *Delegation         `json:"undelegate,omitempty"`
	WithdrawDelegatorReward *WithdrawReward     `json:"withdraw_delegator_reward,omitempty"`
	WithdrawToConsumer      *WithdrawToConsumer `json:"withdraw_to_consumer,omitempty"`
	// Sudo is accepted from the contract admin only.
	Sudo *MetaStakingSudo `json:"sudo,omitempty"`
}

type Delegation struct {
	Validator string   `json:"validator"`
	Amount    sdk.Coin `json:"amount"`
}

type WithdrawReward struct {
	Validator string `json:"validator"`
}

type WithdrawToConsumer struct {
	Consumer  string `json:"consumer"`
	Validator string `json:"validator"`
}

type MetaStakingSudo struct {
	AddConsumer    *AddConsumer    `json:"add_consumer,omitempty"`
	RemoveConsumer *RemoveConsumer `json:"remove_consumer,omitempty"`
}

type AddConsumer struct {
	ConsumerAddress          string   `json:"consumer_address"`
	FundsAvailableForStaking sdk.Coin `json:"funds_available_for_staking"`
}

type RemoveConsumer struct {
	ConsumerAddress string `json:"consumer_address"`
}

type MetaStakingQuery struct {
	Config     *Empty           `json:"config,omitempty"`
	Consumer   *ConsumerLookup  `json:"consumer,omitempty"`
	Delegation *DelegationQuery `json:"delegation,omitempty"`
}

type ConsumerLookup struct {
	Address string `json:"address"`
}

type DelegationQuery struct {
	Consumer  string `json:"consumer"`
	Validator string `json:"validator"`
}

type MetaStakingConfigResponse struct {
	LocalDenom                   string            `json:"local_denom"`
	ProviderDenom                string            `json:"provider_denom"`
	ConsumerProviderExchangeRate sdkmath.LegacyDec `json:"consumer_provider_exchange_rate"`
}

type ConsumerInfoResponse struct {
	Address        string      `json:"address"`
	AvailableFunds sdkmath.Int `json:"available_funds"`
	TotalStaked    sdkmath.Int `json:"total_staked"`
}

type DelegationResponse struct {
	Amount sdkmath.Int `json:"amount"`
}

// --- packets ---

// ProviderPacket is sent from the provider to the consumer.
type ProviderPacket struct {
	ListValidators *Empty       `json:"list_validators,omitempty"`
	Stake          *StakePacket `json:"stake,omitempty"`
	Unstake        *StakePacket `json:"unstake,omitempty"`
}

// StakePacket moves stake on a set of validators. Key correlates the ack.
type StakePacket struct {
	Validators []ValidatorAmount `json:"validators"`
	Key        uint64            `json:"key"`
}

// ConsumerPacket is sent from the consumer to the provider.
type ConsumerPacket struct {
	UpdateValidators *UpdateValidators `json:"update_validators,omitempty"`
	Rewards          *RewardsPacket    `json:"rewards,omitempty"`
}

type UpdateValidators struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// RewardsPacket announces rewards sent to the provider over ICS20.
type RewardsPacket struct {
	Validator string      `json:"validator"`
	Total     sdkmath.Int `json:"total"`
}

type StakeResponse struct{}

type UnstakeResponse struct{}

type RewardsResponse struct{}

type UpdateValidatorsResponse struct{}

// MustJSON marshals v and panics on failure. It is meant for message literals.
func MustJSON(v any) []byte {
	bz, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bz
}
