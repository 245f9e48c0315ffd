package shooter

import (
	"context"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/NethermindEth/starknet.go/utils"

	"starknet-shoot/internal/feltutil"
	"starknet-shoot/internal/signer"
)

// NewTransfer builds the "transfer" shooter: each task sends a
// fixed-amount ERC20 transfer from its owning account to itself,
// keeping balances untouched by net effect so funding sized during setup
// never runs dry over a long benchmark.
func NewTransfer(name string, amount uint64, tokenAddress string, transferAmount *big.Int) Shooter {
	token := feltutil.MustHex(tokenAddress)
	return Shooter{
		Name:    name,
		Amount:  amount,
		IsWrite: true,
		BuildTx: func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error) {
			low, high := feltutil.U256(transferAmount)
			return []rpc.InvokeFunctionCall{{
				ContractAddress: token,
				FunctionName:    "transfer",
				CallData:        []*felt.Felt{acc.Address, low, high},
			}}, nil
		},
	}
}

// NewMint builds the "mint" shooter: each task mints one ERC721 token to
// its owning account, token id derived from local_i so ids never collide
// within one account's submission sequence.
func NewMint(name string, amount uint64, nftAddress string) Shooter {
	nft := feltutil.MustHex(nftAddress)
	return Shooter{
		Name:    name,
		Amount:  amount,
		IsWrite: true,
		BuildTx: func(ctx context.Context, acc *signer.Account, localI uint64) ([]rpc.InvokeFunctionCall, error) {
			tokenID := new(big.Int).SetUint64(localI + 1)
			low, high := feltutil.U256(tokenID)
			return []rpc.InvokeFunctionCall{{
				ContractAddress: nft,
				FunctionName:    "mint",
				CallData:        []*felt.Felt{acc.Address, low, high},
			}}, nil
		},
	}
}

// NewRead builds the read-bench variant: each task issues one raw_request
// using params[i mod len(params)].
func NewRead(name string, numRequests uint64, method string, params []any) Shooter {
	return Shooter{
		Name:    name,
		Amount:  numRequests,
		IsWrite: false,
		ReadCall: func(localI uint64) (string, any) {
			if len(params) == 0 {
				return method, nil
			}
			return method, params[localI%uint64(len(params))]
		},
	}
}

// Selector resolves an entry point name to its selector felt, exposed for
// shooters assembled outside this package from custom config.
func Selector(name string) *felt.Felt {
	return utils.GetSelectorFromNameFelt(name)
}
