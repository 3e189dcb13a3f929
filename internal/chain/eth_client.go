package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"mintwatch/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultReceiptPoll = 2 * time.Second

// EthClient reads mint state from and submits mints to an EVM contract.
type EthClient struct {
	client      *ethclient.Client
	contract    *bind.BoundContract
	abi         abi.ABI
	address     common.Address
	from        common.Address
	chainID     *big.Int
	transacts   *bind.TransactOpts
	methods     contracts.MintMethods
	receiptPoll time.Duration
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	Methods         contracts.MintMethods
	ReceiptPoll     time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("mint contract address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting mints")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	parsedABI, err := contracts.ParseMintABI(cfg.Methods)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.NoSend = false
	txOpts.Nonce = nil // pending nonce from the node

	address := common.HexToAddress(cfg.ContractAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = defaultReceiptPoll
	}

	return &EthClient{
		client:      cli,
		contract:    bound,
		abi:         parsedABI,
		address:     address,
		from:        crypto.PubkeyToAddress(pk.PublicKey),
		chainID:     chainID,
		transacts:   txOpts,
		methods:     cfg.Methods,
		receiptPoll: poll,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) Address() common.Address {
	return c.from
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) Contract() common.Address {
	return c.address
}

func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.client.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, networkErr("balance", err)
	}
	return bal, nil
}

func (c *EthClient) IsReady(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, c.methods.ReadyMethod); err != nil {
		return false, networkErr(c.methods.ReadyMethod, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%s: unexpected output count %d", c.methods.ReadyMethod, len(out))
	}
	ready, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected output type %T", c.methods.ReadyMethod, out[0])
	}
	return ready, nil
}

func (c *EthClient) UnitPrice(ctx context.Context) (*big.Int, error) {
	if c.methods.PriceMethod == "" {
		return nil, ErrPriceUnavailable
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, c.methods.PriceMethod); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	if len(out) != 1 {
		return nil, ErrPriceUnavailable
	}
	price, ok := out[0].(*big.Int)
	if !ok || price == nil {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

func (c *EthClient) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, networkErr("gas price", err)
	}
	return price, nil
}

func (c *EthClient) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	if err := validateSubmitRequest(req); err != nil {
		return Submission{}, &SubmissionError{Err: err}
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.Value = new(big.Int).Set(req.Value)
	opts.GasLimit = req.GasLimit
	opts.GasPrice = new(big.Int).Set(req.GasPrice)

	tx, err := c.contract.Transact(&opts, c.methods.MintMethod, big.NewInt(req.Quantity))
	if err != nil {
		return Submission{}, &SubmissionError{Err: err}
	}
	return Submission{Hash: tx.Hash(), Nonce: tx.Nonce()}, nil
}

// AwaitConfirmation polls until the transaction is mined or ctx is done.
// Giving up on ctx yields ErrConfirmTimeout since the tx may still land.
func (c *EthClient) AwaitConfirmation(ctx context.Context, sub Submission) (Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, sub.Hash)
		if receipt != nil {
			return receiptFrom(receipt)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return Receipt{}, unconfirmed(sub.Hash, ctx.Err())
			}
			return Receipt{}, &ConfirmationError{TxHash: sub.Hash, Err: err}
		}
		select {
		case <-ctx.Done():
			return Receipt{}, unconfirmed(sub.Hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func receiptFrom(r *types.Receipt) (Receipt, error) {
	out := Receipt{
		TxHash:  r.TxHash,
		GasUsed: r.GasUsed,
		Status:  r.Status,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status == types.ReceiptStatusFailed {
		return out, &ConfirmationError{TxHash: r.TxHash, Err: ErrReverted}
	}
	return out, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func validateSubmitRequest(req SubmitRequest) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.Value == nil || req.Value.Sign() < 0 {
		return fmt.Errorf("value must be non-negative")
	}
	if req.GasLimit == 0 {
		return fmt.Errorf("gas limit required")
	}
	if req.GasPrice == nil || req.GasPrice.Sign() <= 0 {
		return fmt.Errorf("gas price required")
	}
	return nil
}
