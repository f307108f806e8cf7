// Package chain incrementally walks blockchain event logs in bounded
// windows and folds them into per-wallet cumulative metrics. Progress is
// tracked per source in the checkpoint store; a window's counters are always
// durably written before its checkpoint advances.
package chain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// EventKind classifies a decoded registry event.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAgentRegistered
	EventTaskCompleted
	EventTaskFailed
	EventDisputeOpened
	EventAgentSlashed
)

// Event signature topics for the three scanned contracts.
var (
	topicAgentRegistered = crypto.Keccak256Hash([]byte("AgentRegistered(address,bytes32)"))
	topicTaskCompleted   = crypto.Keccak256Hash([]byte("TaskCompleted(address,uint256)"))
	topicTaskFailed      = crypto.Keccak256Hash([]byte("TaskFailed(address,uint256)"))
	topicDisputeOpened   = crypto.Keccak256Hash([]byte("DisputeOpened(address,uint256)"))
	topicAgentSlashed    = crypto.Keccak256Hash([]byte("AgentSlashed(address,uint256)"))
)

// Source describes one scanned contract/topic set. Key doubles as the
// checkpoint key, so renaming a source restarts its scan from genesis.
type Source struct {
	Key     string
	Address common.Address
	Events  map[common.Hash]EventKind
}

// IdentitySource scans the identity registry. Registration events carry no
// counters; they only establish the wallet's first-seen timestamp.
func IdentitySource(address common.Address) Source {
	return Source{
		Key:     "identity:" + address.Hex(),
		Address: address,
		Events: map[common.Hash]EventKind{
			topicAgentRegistered: EventAgentRegistered,
		},
	}
}

// EscrowSource scans the escrow contract for task outcomes and disputes.
func EscrowSource(address common.Address) Source {
	return Source{
		Key:     "escrow:" + address.Hex(),
		Address: address,
		Events: map[common.Hash]EventKind{
			topicTaskCompleted: EventTaskCompleted,
			topicTaskFailed:    EventTaskFailed,
			topicDisputeOpened: EventDisputeOpened,
		},
	}
}

// ReputationSource scans the reputation registry for slashes.
func ReputationSource(address common.Address) Source {
	return Source{
		Key:     "reputation:" + address.Hex(),
		Address: address,
		Events: map[common.Hash]EventKind{
			topicAgentSlashed: EventAgentSlashed,
		},
	}
}

// Topics returns the source's event signature topics for a filter query.
func (s Source) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(s.Events))
	for topic := range s.Events {
		out = append(out, topic)
	}
	return out
}

// walletDelta accumulates one wallet's counter changes within a window,
// tracking the block of its earliest event for age resolution.
type walletDelta struct {
	delta         model.EventDelta
	earliestBlock uint64
}

// foldLogs groups a window's logs into per-wallet counter deltas. Logs with
// an unknown topic or a missing indexed wallet are dropped individually,
// never failing the window.
func foldLogs(src Source, logs []types.Log) map[string]*walletDelta {
	out := make(map[string]*walletDelta)
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		kind, ok := src.Events[lg.Topics[0]]
		if !ok {
			continue
		}
		wallet := strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())

		wd, ok := out[wallet]
		if !ok {
			wd = &walletDelta{
				delta:         model.EventDelta{Wallet: wallet},
				earliestBlock: lg.BlockNumber,
			}
			out[wallet] = wd
		}
		if lg.BlockNumber < wd.earliestBlock {
			wd.earliestBlock = lg.BlockNumber
		}

		switch kind {
		case EventTaskCompleted:
			wd.delta.Completed++
		case EventTaskFailed:
			wd.delta.Failed++
		case EventDisputeOpened:
			wd.delta.Disputes++
		case EventAgentSlashed:
			wd.delta.Slashes++
		case EventAgentRegistered, EventUnknown:
			// first-seen only
		}
	}
	return out
}

// stampEarliest sets each delta's earliest-event timestamp from the resolved
// block times. Blocks whose header fetch failed stay unstamped; the merge
// then leaves firstSeen untouched for that wallet.
func stampEarliest(deltas map[string]*walletDelta, blockTimes map[uint64]time.Time) {
	for _, wd := range deltas {
		if ts, ok := blockTimes[wd.earliestBlock]; ok {
			wd.delta.EarliestAt = ts
		}
	}
}
