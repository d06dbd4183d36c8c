package simnet

import (
	"bytes"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"github.com/osmosis-labs/mesh-harness/framework/ibc"
)

// wasmMagic prefixes every artifact produced by Wasm.
var wasmMagic = []byte("\x00asm-simnet:")

// Wasm returns the bytecode artifact that uploads the contract registered as name.
func Wasm(name string) []byte {
	return append(append([]byte{}, wasmMagic...), name...)
}

func contractNameFromWasm(wasm []byte) (string, error) {
	if !bytes.HasPrefix(wasm, wasmMagic) {
		return "", fmt.Errorf("not a simnet contract artifact")
	}
	return string(wasm[len(wasmMagic):]), nil
}

// Contract is a Go implementation of a CosmWasm contract. Implementations
// keep no state of their own; everything lives in Ctx.Store.
type Contract interface {
	Instantiate(ctx Ctx, info MessageInfo, msg []byte) (*Response, error)
	Execute(ctx Ctx, info MessageInfo, msg []byte) (*Response, error)
	Query(ctx Ctx, msg []byte) ([]byte, error)
}

// Replier is implemented by contracts that dispatch sub-messages with replies.
type Replier interface {
	Reply(ctx Ctx, reply Reply) (*Response, error)
}

// IBCContract is implemented by contracts that own an IBC port.
type IBCContract interface {
	// ChannelOpen is called on open-init and open-try.
	ChannelOpen(ctx Ctx, req ibc.OpenRequest) error
	// ChannelConnect is called on open-ack and open-confirm.
	ChannelConnect(ctx Ctx, req ibc.OpenRequest) (*Response, error)
	// PacketReceive returns the acknowledgement to write. A returned error
	// discards the state changes and is written as an error acknowledgement.
	PacketReceive(ctx Ctx, packet ibc.Packet) ([]byte, *Response, error)
	// PacketAck processes the acknowledgement of a packet this contract sent.
	PacketAck(ctx Ctx, packet ibc.Packet, ack []byte) (*Response, error)
}

// Registry maps contract names to implementations.
type Registry map[string]Contract

// Env describes the block and contract a call executes in.
type Env struct {
	ChainID  string
	Height   int64
	Time     time.Time
	Contract string
	PortID   string
}

// MessageInfo carries the sender and the funds sent along with a message.
type MessageInfo struct {
	Sender string
	Funds  sdk.Coins
}

// Ctx is passed to every contract entry point.
type Ctx struct {
	Env     Env
	Store   KVStore
	Querier Querier
	Logger  *zap.Logger
}

// Querier exposes read access to chain state from within a contract.
type Querier interface {
	Balance(address, denom string) (sdk.Coin, error)
	QueryContract(address string, query any, out any) error
	Validators() ([]string, error)
	Delegation(delegator, validator string) (sdkmath.Int, error)
	StakingDenom() string
	ValidateAddress(address string) error
}

// Response is returned by contract entry points.
type Response struct {
	Messages   []SubMsg
	Attributes []Attribute
	Data       []byte
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{}
}

// AddMessage appends a message whose failure aborts the whole call.
func (r *Response) AddMessage(m Msg) *Response {
	r.Messages = append(r.Messages, SubMsg{Msg: m, ReplyOn: ReplyNever})
	return r
}

// AddSubMessage appends a message dispatched with a reply.
func (r *Response) AddSubMessage(id uint64, m Msg, on ReplyOn) *Response {
	r.Messages = append(r.Messages, SubMsg{ID: id, Msg: m, ReplyOn: on})
	return r
}

// AddAttribute appends an event attribute.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// WithData sets the response data.
func (r *Response) WithData(data []byte) *Response {
	r.Data = data
	return r
}

type Attribute struct {
	Key   string
	Value string
}

// ReplyOn controls when the emitting contract is called back.
type ReplyOn int

const (
	ReplyNever ReplyOn = iota
	ReplySuccess
	ReplyError
	ReplyAlways
)

// SubMsg is a message emitted by a contract.
type SubMsg struct {
	ID      uint64
	Msg     Msg
	ReplyOn ReplyOn
}

// Reply is delivered to Replier.Reply. Err is empty on success.
type Reply struct {
	ID   uint64
	Err  string
	Data []byte
}

// Msg is a message a contract can emit.
type Msg interface {
	isMsg()
}

// BankSend sends coins from the contract.
type BankSend struct {
	ToAddress string
	Amount    sdk.Coins
}

// WasmExecute calls another contract.
type WasmExecute struct {
	Contract string
	Msg      []byte
	Funds    sdk.Coins
}

// WasmInstantiate creates a contract. The reply data holds the new address.
type WasmInstantiate struct {
	CodeID uint64
	Msg    []byte
	Funds  sdk.Coins
	Label  string
	Admin  string
}

// Delegate bonds tokens to a validator.
type Delegate struct {
	Validator string
	Amount    sdk.Coin
}

// Undelegate starts unbonding tokens from a validator.
type Undelegate struct {
	Validator string
	Amount    sdk.Coin
}

// WithdrawDelegatorReward withdraws rewards. The reply data holds the JSON
// encoded coins withdrawn.
type WithdrawDelegatorReward struct {
	Validator string
}

// SendPacket sends a packet from the contract's port.
type SendPacket struct {
	ChannelID string
	Data      []byte
}

// Transfer sends tokens over an ICS20 channel.
type Transfer struct {
	ChannelID string
	ToAddress string
	Amount    sdk.Coin
}

func (BankSend) isMsg()                {}
func (WasmExecute) isMsg()             {}
func (WasmInstantiate) isMsg()         {}
func (Delegate) isMsg()                {}
func (Undelegate) isMsg()              {}
func (WithdrawDelegatorReward) isMsg() {}
func (SendPacket) isMsg()              {}
func (Transfer) isMsg()                {}
