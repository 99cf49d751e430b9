package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/config"
)

// Backend is what the relayer needs from a node; *ethclient.Client satisfies it
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RelayerConfig holds configuration for the transaction relayer
type RelayerConfig struct {
	PrivateKey  string
	ChainID     int64
	GasLimit    uint64
	MaxGasPrice *big.Int
	Timeout     time.Duration
}

func DefaultRelayerConfig(privateKey string, chainID int64) RelayerConfig {
	return RelayerConfig{
		PrivateKey:  privateKey,
		ChainID:     chainID,
		GasLimit:    config.RelayerGasLimit,
		MaxGasPrice: big.NewInt(config.RelayerMaxGasPrice),
		Timeout:     config.TransactionTimeout,
	}
}

// Relayer signs and submits the custodian's transactions. Submissions are
// serialized so pending nonces never collide.
type Relayer struct {
	backend    Backend
	privateKey *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	config     RelayerConfig

	mu sync.Mutex
}

func NewRelayer(backend Backend, cfg RelayerConfig) (*Relayer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.TransactionTimeout
	}

	return &Relayer{
		backend:    backend,
		privateKey: privateKey,
		from:       crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(cfg.ChainID),
		config:     cfg,
	}, nil
}

// Address is the account paying gas and holding custody
func (r *Relayer) Address() common.Address {
	return r.from
}

func (r *Relayer) opts(ctx context.Context) (*bind.TransactOpts, error) {
	nonce, err := r.backend.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := r.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if r.config.MaxGasPrice != nil && gasPrice.Cmp(r.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(r.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(r.privateKey, r.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.Value = big.NewInt(0)
	auth.GasLimit = r.config.GasLimit
	auth.GasPrice = gasPrice
	auth.Context = ctx
	return auth, nil
}

// Transact calls method on contract and waits until the transaction is mined
func (r *Relayer) Transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	r.mu.Lock()
	auth, err := r.opts(ctx)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	tx, err := contract.Transact(auth, method, params...)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s transaction failed: %w", method, err)
	}

	log.Debug().
		Str("method", method).
		Str("tx", tx.Hash().Hex()).
		Uint64("nonce", tx.Nonce()).
		Msg("📤 Transaction sent")

	receipt, err := bind.WaitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("transaction mining failed: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction %s failed with status: %d", method, tx.Hash().Hex(), receipt.Status)
	}
	return receipt, nil
}

// GetBalance returns the relayer's native balance
func (r *Relayer) GetBalance(ctx context.Context) (*big.Int, error) {
	return r.backend.BalanceAt(ctx, r.from, nil)
}

// MonitorBalance checks if relayer has sufficient balance to pay gas
func (r *Relayer) MonitorBalance(ctx context.Context, minBalance *big.Int) error {
	balance, err := r.GetBalance(ctx)
	if err != nil {
		return err
	}
	if balance.Cmp(minBalance) < 0 {
		return fmt.Errorf("relayer balance too low: %s (minimum: %s)", balance.String(), minBalance.String())
	}
	return nil
}

// WatchBalance periodically warns when the relayer runs low on gas
func (r *Relayer) WatchBalance(ctx context.Context, interval time.Duration, minBalance *big.Int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.MonitorBalance(ctx, minBalance); err != nil {
				log.Warn().Err(err).Str("relayer", r.from.Hex()).Msg("⚠️ Relayer balance check")
			}
		}
	}
}
