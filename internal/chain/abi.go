package chain

import (
	"embed"
	"fmt"
	"math/big"
	"path"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed abi/*.json
var abiFiles embed.FS

var (
	gameABI   = mustLoadABI("game.json")
	marketABI = mustLoadABI("market.json")
	erc20ABI  = mustLoadABI("erc20.json")
	nftABI    = mustLoadABI("nft.json")
	quoterABI = mustLoadABI("quoter.json")
)

func mustLoadABI(name string) abi.ABI {
	f, err := abiFiles.Open(path.Join("abi", name))
	if err != nil {
		panic(fmt.Sprintf("open abi %s: %v", name, err))
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		panic(fmt.Sprintf("parse abi %s: %v", name, err))
	}
	return parsed
}

// decodeError is an output that did not have the Go type its ABI promised.
type decodeError struct {
	method string
	index  int
	want   string
	got    any
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s output %d: want %s, got %T", e.method, e.index, e.want, e.got)
}

// values walks unpacked outputs; the first type mismatch sticks in err.
type values struct {
	method string
	out    []any
	err    error
}

func (v *values) at(i int, want string) any {
	if v.err != nil {
		return nil
	}
	if i >= len(v.out) {
		v.err = &decodeError{method: v.method, index: i, want: want, got: nil}
		return nil
	}
	return v.out[i]
}

func (v *values) fail(i int, want string, got any) {
	if v.err == nil {
		v.err = &decodeError{method: v.method, index: i, want: want, got: got}
	}
}

func (v *values) bigInt(i int) *big.Int {
	raw := v.at(i, "uint256")
	b, ok := raw.(*big.Int)
	if !ok {
		v.fail(i, "*big.Int", raw)
		return nil
	}
	return b
}

func (v *values) u64(i int) uint64 {
	b := v.bigInt(i)
	if b == nil {
		return 0
	}
	if !b.IsUint64() {
		v.fail(i, "uint64 range", b)
		return 0
	}
	return b.Uint64()
}

func (v *values) i64(i int) int64 {
	n := v.u64(i)
	if n > 1<<62 {
		v.fail(i, "int64 range", n)
		return 0
	}
	return int64(n)
}

func (v *values) u8(i int) uint8 {
	raw := v.at(i, "uint8")
	n, ok := raw.(uint8)
	if !ok {
		v.fail(i, "uint8", raw)
	}
	return n
}

func (v *values) boolean(i int) bool {
	raw := v.at(i, "bool")
	b, ok := raw.(bool)
	if !ok {
		v.fail(i, "bool", raw)
	}
	return b
}

func (v *values) str(i int) string {
	raw := v.at(i, "string")
	s, ok := raw.(string)
	if !ok {
		v.fail(i, "string", raw)
	}
	return s
}

func (v *values) address(i int) common.Address {
	raw := v.at(i, "address")
	a, ok := raw.(common.Address)
	if !ok {
		v.fail(i, "address", raw)
	}
	return a
}

func (v *values) bytes32(i int) [32]byte {
	raw := v.at(i, "bytes32")
	b, ok := raw.([32]byte)
	if !ok {
		v.fail(i, "bytes32", raw)
	}
	return b
}

func (v *values) u8s(i int) []uint8 {
	raw := v.at(i, "uint8[]")
	s, ok := raw.([]uint8)
	if !ok {
		v.fail(i, "uint8[]", raw)
		return nil
	}
	return append([]uint8(nil), s...)
}

func (v *values) bigs(i int) []*big.Int {
	raw := v.at(i, "uint256[]")
	s, ok := raw.([]*big.Int)
	if !ok {
		v.fail(i, "uint256[]", raw)
		return nil
	}
	return s
}

func (v *values) u64s(i int) []uint64 {
	raw := v.bigs(i)
	out := make([]uint64, 0, len(raw))
	for _, b := range raw {
		if !b.IsUint64() {
			v.fail(i, "uint64 range", b)
			return nil
		}
		out = append(out, b.Uint64())
	}
	return out
}
