package ledger

import "errors"

// Validation failure modes, named after spec §4.1's taxonomy. These are
// recovered locally by callers (gossip/node dispatch): never propagated to
// peers, never fatal (spec §7).
var (
	ErrHeightMismatch      = errors.New("block index does not extend current height")
	ErrParentMismatch      = errors.New("block previous_hash does not match current tip")
	ErrBadPoW              = errors.New("block hash does not satisfy difficulty target")
	ErrBadMerkle           = errors.New("block merkle_root does not match its transactions")
	ErrBadSignature        = errors.New("transaction signature does not verify")
	ErrBadNonce            = errors.New("transaction nonce does not match account nonce")
	ErrInsufficientBalance = errors.New("sender balance insufficient for amount plus fee")
	ErrBadCoinbase         = errors.New("coinbase transaction missing, duplicated, or mispaid")
	ErrGenesisMismatch     = errors.New("candidate chain does not share genesis with current chain")
	ErrNotLonger           = errors.New("candidate chain is not strictly longer than current chain")
)
