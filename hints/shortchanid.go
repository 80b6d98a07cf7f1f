package hints

// The Synthetic* constants are the fixed block/tx/output triple used to pack
// a synthetic routing hint for reverse swaps, which have no real channel
// behind their invoice. Any wallet decoding the invoice sees a
// channel that looks structurally valid but is never looked up on the
// public graph, since real channels never live at this height.
const (
	SyntheticBlockHeight  = 542409
	SyntheticTxIndex      = 1308
	SyntheticOutputIndex  = 0
)

// PackShortChanID encodes a block/tx/output triple the way lnwire.ShortChannelID
// does: block height in the top 24 bits, tx index in the middle 24, output
// index in the bottom 16.
func PackShortChanID(blockHeight, txIndex uint32, outputIndex uint16) uint64 {
	return (uint64(blockHeight&0xffffff) << 40) |
		(uint64(txIndex&0xffffff) << 16) |
		uint64(outputIndex)
}

// UnpackShortChanID reverses PackShortChanID.
func UnpackShortChanID(id uint64) (blockHeight, txIndex uint32, outputIndex uint16) {
	blockHeight = uint32((id >> 40) & 0xffffff)
	txIndex = uint32((id >> 16) & 0xffffff)
	outputIndex = uint16(id & 0xffff)
	return
}

// SyntheticShortChanID returns the fixed synthetic short channel id used for
// hop hints on invoices that don't correspond to a real channel.
func SyntheticShortChanID() uint64 {
	return PackShortChanID(
		SyntheticBlockHeight, SyntheticTxIndex, SyntheticOutputIndex,
	)
}
