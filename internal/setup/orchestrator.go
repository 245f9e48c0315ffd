// Package setup drives the one-shot, idempotent-by-salt sequence that
// prepares a chain for a benchmark run: declare the token/account classes
// (skipping any already declared), deploy one ERC20 and one ERC721
// instance, derive and deploy a pool of benchmark accounts, fund them, and
// gate on their balances actually landing before the load phase starts.
package setup

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/account"
	"github.com/NethermindEth/starknet.go/contracts"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"

	"starknet-shoot/internal/config"
	"starknet-shoot/internal/feltutil"
	"starknet-shoot/internal/rpcfacade"
	"starknet-shoot/internal/signer"
)

// Result is everything the run phase needs from setup.
type Result struct {
	ERC20Address    *felt.Felt
	ERC721Address   *felt.Felt
	Accounts        []*signer.Account
}

// Orchestrator drives the setup sequence once per run.
type Orchestrator struct {
	client   *rpcfacade.Client
	provider *rpc.Provider
	cfg      *config.Config
	deployer *signer.Account
}

// New constructs an orchestrator bound to a connected facade and the
// deployer account described in config.
func New(client *rpcfacade.Client, provider *rpc.Provider, cfg *config.Config, deployer *signer.Account) *Orchestrator {
	return &Orchestrator{client: client, provider: provider, cfg: cfg, deployer: deployer}
}

// Run executes the full setup sequence step by step, failing fast: a
// partial setup is never reported as success.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	log.Printf("[setup] starting: num_accounts=%d", o.cfg.Setup.NumAccounts)

	erc20, erc721, err := o.declareAndDeployTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: declare/deploy tokens: %w", err)
	}

	accounts, err := o.deriveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: derive accounts: %w", err)
	}

	if err := o.fundAccounts(ctx, erc20, accounts); err != nil {
		return nil, fmt.Errorf("setup: fund accounts: %w", err)
	}

	if err := o.readinessGate(ctx, erc20, accounts); err != nil {
		return nil, fmt.Errorf("setup: readiness gate: %w", err)
	}

	log.Printf("[setup] complete: erc20=%s erc721=%s accounts=%d", erc20, erc721, len(accounts))
	return &Result{ERC20Address: erc20, ERC721Address: erc721, Accounts: accounts}, nil
}

// declareAndDeployTokens declares the ERC20/ERC721/account classes (skipping
// any already declared) and deploys one instance of each token contract.
func (o *Orchestrator) declareAndDeployTokens(ctx context.Context) (erc20, erc721 *felt.Felt, err error) {
	erc20ClassHash, err := o.declareIfMissing(ctx, "erc20", o.cfg.Setup.ERC20Contract)
	if err != nil {
		return nil, nil, err
	}
	erc721ClassHash, err := o.declareIfMissing(ctx, "erc721", o.cfg.Setup.ERC721Contract)
	if err != nil {
		return nil, nil, err
	}
	if _, err := o.declareIfMissing(ctx, "account", o.cfg.Setup.AccountContract); err != nil {
		return nil, nil, err
	}

	erc20Addr, err := o.deployInstance(ctx, erc20ClassHash, "erc20")
	if err != nil {
		return nil, nil, err
	}
	erc721Addr, err := o.deployInstance(ctx, erc721ClassHash, "erc721")
	if err != nil {
		return nil, nil, err
	}
	return erc20Addr, erc721Addr, nil
}

// declareIfMissing declares a contract class unless it is already known to
// the node, waiting for inclusion before returning. Because the class hash
// is computed from the artifact's own bytes, rerunning setup against a
// chain that already has the class declared finds it via get_class and
// skips straight past the declare step.
func (o *Orchestrator) declareIfMissing(ctx context.Context, label string, src config.ContractSource) (*felt.Felt, error) {
	classHash, compiledClassHash, err := loadClassHashes(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	_, classErr := o.provider.Class(ctx, rpc.WithBlockTag("latest"), classHash)
	if classErr == nil {
		log.Printf("[setup] %s class %s already declared, skipping", label, feltutil.Short(classHash))
		return classHash, nil
	}

	log.Printf("[setup] declaring %s class %s", label, feltutil.Short(classHash))
	declareTx, err := o.deployer.Raw().BuildDeclareTxn(ctx, classHash, compiledClassHash)
	if err != nil {
		return nil, fmt.Errorf("%s: building declare: %w", label, err)
	}

	txHash, _, err := o.client.AddDeclare(ctx, declareTx)
	if err != nil {
		return nil, fmt.Errorf("%s: add_declare: %w", label, err)
	}
	if err := o.waitIncluded(ctx, txHash); err != nil {
		return nil, fmt.Errorf("%s: waiting for declare inclusion: %w", label, err)
	}
	return classHash, nil
}

// deployInstance deploys one instance of a declared class via the
// deployer's invoke call to the universal deployer contract, returning the
// resulting contract address.
func (o *Orchestrator) deployInstance(ctx context.Context, classHash *felt.Felt, label string) (*felt.Felt, error) {
	salt := feltutil.FromASCII(fmt.Sprintf("starknet-shoot-%s", label))
	calls := []rpc.InvokeFunctionCall{{
		ContractAddress: udcAddress(),
		FunctionName:    "deployContract",
		CallData: []*felt.Felt{
			classHash,
			salt,
			&felt.Zero, // unique = false: deterministic across reruns
			utils.Uint64ToFelt(0),
		},
	}}

	txHash, err := o.deployer.SubmitInvoke(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("%s: submitting deploy invoke: %w", label, err)
	}
	if err := o.waitIncluded(ctx, txHash); err != nil {
		return nil, fmt.Errorf("%s: waiting for deploy inclusion: %w", label, err)
	}

	addr := utils.PrecomputeAddressForUDC(classHash, salt, nil, o.deployer.Address)
	return addr, nil
}

// deriveAccounts derives num_accounts benchmark accounts, one per index i,
// and deploys each via deploy_account. Key derivation is HKDF-SHA256 over
// (deployer salt, index), which keeps the whole account pool reproducible
// from a single config value across reruns; no base_salt ⊕ i value is
// formed, and the derived signing key doubles as the address salt.
func (o *Orchestrator) deriveAccounts(ctx context.Context) ([]*signer.Account, error) {
	n := int(o.cfg.Setup.NumAccounts)
	accounts := make([]*signer.Account, 0, n)
	chainID := feltutil.FromASCII(o.cfg.Setup.ChainID)
	accountClassHash, _, err := loadClassHashes(o.cfg.Setup.AccountContract)
	if err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		signingKey, err := deriveSigningKey(o.cfg.Deployer.Salt, i)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		signingKeyFelt := utils.BigIntToFelt(signingKey)
		pub, err := account.PublicKeyFromPrivateKey(signingKeyFelt)
		if err != nil {
			return nil, fmt.Errorf("account %d: deriving public key: %w", i, err)
		}
		precomputedAddr := utils.PrecomputeAddressForUDC(accountClassHash, signingKeyFelt, nil, &felt.Zero)

		acc, err := signer.New(o.provider, precomputedAddr, signingKeyFelt, pub, chainID, o.cfg.Deployer.LegacyAccount, 0)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}

		deployTx, err := acc.Raw().BuildDeployAccountTxn(ctx, accountClassHash, 0)
		if err != nil {
			return nil, fmt.Errorf("account %d: building deploy_account: %w", i, err)
		}
		txHash, deployedAddr, err := o.client.AddDeployAccount(ctx, deployTx)
		if err != nil {
			return nil, fmt.Errorf("account %d: add_deploy_account: %w", i, err)
		}
		if err := o.waitIncluded(ctx, txHash); err != nil {
			return nil, fmt.Errorf("account %d: waiting for deploy_account inclusion: %w", i, err)
		}
		// The account keeps the pre-deploy precomputed Address; if the
		// node's returned contract address differs, the disagreement is
		// only logged and the precomputed value is still used.
		if !feltutil.Equal(deployedAddr, precomputedAddr) {
			log.Printf("[setup] WARN: account %d deployed address %s disagrees with precomputed %s", i, feltutil.Short(deployedAddr), feltutil.Short(precomputedAddr))
		}

		log.Printf("[setup] account %d deployed at %s", i, feltutil.Short(precomputedAddr))
		accounts = append(accounts, acc)
	}

	return accounts, nil
}

// fundAccounts issues ERC20 transfer calls from the deployer, batched into
// as few invokes as the deployer account's multicall support allows.
func (o *Orchestrator) fundAccounts(ctx context.Context, erc20 *felt.Felt, accounts []*signer.Account) error {
	budget := perAccountBudget(o.cfg.Run)

	const batchSize = 20
	for start := 0; start < len(accounts); start += batchSize {
		end := start + batchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		batch := accounts[start:end]

		calls := make([]rpc.InvokeFunctionCall, 0, len(batch))
		for _, acc := range batch {
			low, high := feltutil.U256(budget)
			calls = append(calls, rpc.InvokeFunctionCall{
				ContractAddress: erc20,
				FunctionName:    "transfer",
				CallData:        []*felt.Felt{acc.Address, low, high},
			})
		}

		txHash, err := o.deployer.SubmitInvoke(ctx, calls)
		if err != nil {
			return fmt.Errorf("funding batch %d: %w", start, err)
		}
		if end == len(accounts) {
			// Only the last funding tx needs to be awaited; earlier batches
			// only need to have landed in the mempool before fundAccounts
			// returns, since readinessGate polls actual balances next.
			if err := o.waitIncluded(ctx, txHash); err != nil {
				return fmt.Errorf("waiting for last funding tx: %w", err)
			}
		}
	}
	return nil
}

// readinessGate verifies every account's ERC20 balance has actually landed,
// retrying with exponential backoff up to a bounded limit before failing.
// It checks balances only; on-chain nonces are not read here.
func (o *Orchestrator) readinessGate(ctx context.Context, erc20 *felt.Felt, accounts []*signer.Account) error {
	budget := perAccountBudget(o.cfg.Run)
	const maxAttempts = 8
	balanceOf := utils.GetSelectorFromNameFelt("balanceOf")

	for _, acc := range accounts {
		var lastErr error
		backoff := 200 * time.Millisecond
		ok := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			result, err := o.client.Call(ctx, erc20, balanceOf, []*felt.Felt{acc.Address})
			if err == nil && len(result) == 2 {
				bal := feltutil.FromU256(result[0], result[1])
				if bal.Cmp(budget) >= 0 {
					ok = true
					break
				}
			} else {
				lastErr = err
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		if !ok {
			return fmt.Errorf("account %s never reached expected balance: %v", feltutil.Short(acc.Address), lastErr)
		}
	}
	return nil
}

func (o *Orchestrator) waitIncluded(ctx context.Context, txHash *felt.Felt) error {
	_, err := o.deployer.Raw().WaitForTransactionReceipt(ctx, txHash, 2*time.Second)
	return err
}

// deriveSigningKey derives a Stark-curve signing key deterministically from
// a master salt and account index using HKDF-SHA256; the caller converts the
// resulting 32 bytes with BigIntToFelt, which reduces them modulo the field
// prime like any other felt.
func deriveSigningKey(salt string, index int) (*big.Int, error) {
	info := fmt.Sprintf("starknet-shoot-account-%d", index)
	r := hkdf.New(sha256.New, []byte(salt), nil, []byte(info))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// perAccountBudget sizes each account's funding to cover the load phase's
// token transfers across every configured shooter.
func perAccountBudget(run config.RunConfig) *big.Int {
	var totalOps uint64
	for _, s := range run.Shooters {
		totalOps += s.Shoot
	}
	if totalOps == 0 {
		totalOps = 1
	}
	perOp := big.NewInt(1_000_000_000_000_000) // 0.001 token-unit headroom per op
	return new(big.Int).Mul(perOp, new(big.Int).SetUint64(totalOps))
}

func loadClassHashes(src config.ContractSource) (classHash, compiledClassHash *felt.Felt, err error) {
	switch {
	case src.V0 != nil:
		ch, err := hashDeprecatedClass(src.V0.Path)
		if err != nil {
			return nil, nil, err
		}
		return ch, nil, nil
	case src.V1 != nil:
		ch, err := hashClass(src.V1.Path)
		if err != nil {
			return nil, nil, err
		}
		cch, err := hashCasmClass(src.V1.CasmPath)
		if err != nil {
			return nil, nil, err
		}
		return ch, cch, nil
	default:
		return nil, nil, fmt.Errorf("contract source has neither v0 nor v1")
	}
}

// hashClass computes a Sierra contract class's hash from its artifact file,
// so a class declared in a prior run is recognized as already declared
// instead of being redeclared.
func hashClass(path string) (*felt.Felt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading class %s: %w", path, err)
	}
	var class contracts.ContractClass
	if err := json.Unmarshal(data, &class); err != nil {
		return nil, fmt.Errorf("parsing class %s: %w", path, err)
	}
	return class.Hash()
}

// hashCasmClass computes a Cairo assembly class's compiled class hash from
// its artifact file.
func hashCasmClass(path string) (*felt.Felt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading casm %s: %w", path, err)
	}
	var casm contracts.CasmClass
	if err := json.Unmarshal(data, &casm); err != nil {
		return nil, fmt.Errorf("parsing casm %s: %w", path, err)
	}
	return casm.Hash()
}

// hashDeprecatedClass computes a Cairo 0 class's hash from its artifact
// file.
func hashDeprecatedClass(path string) (*felt.Felt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deprecated class %s: %w", path, err)
	}
	var class contracts.DeprecatedContractClass
	if err := json.Unmarshal(data, &class); err != nil {
		return nil, fmt.Errorf("parsing deprecated class %s: %w", path, err)
	}
	return class.Hash()
}

// udcAddress is the canonical Universal Deployer Contract address used by
// deployInstance; declared here rather than threaded through config since
// it is a network constant, not a per-run parameter.
func udcAddress() *felt.Felt {
	return feltutil.MustHex("0x041a78e741e5af2fec34b695679bc6891742439f7afb8484ecd7766661ad02a")
}
