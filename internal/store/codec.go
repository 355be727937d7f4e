package store

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/stream"
	"github.com/roach88/paystream/internal/treasury"
)

// Record sizes in bytes, discriminator included.
const (
	StreamSize   = 500
	TreasurySize = 300
)

var (
	ErrInvalidStreamSize        = errors.New("invalid stream size")
	ErrInvalidStreamVersion     = errors.New("invalid stream version")
	ErrStreamNotInitialized     = errors.New("stream not initialized")
	ErrInvalidTreasurySize      = errors.New("invalid treasury size")
	ErrInvalidTreasuryVersion   = errors.New("invalid treasury version")
	ErrTreasuryNotInitialized   = errors.New("treasury not initialized")
	ErrAccountDiscriminatorMiss = errors.New("account discriminator mismatch")
)

var (
	streamDiscriminator   = discriminator("Stream")
	treasuryDiscriminator = discriminator("Treasury")
)

func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// EncodeStream serializes a stream into its fixed-size record.
func EncodeStream(s *stream.Stream) []byte {
	w := newWriter(StreamSize)
	w.bytes(streamDiscriminator[:])
	w.u8(s.Version)
	w.bool(s.Initialized)
	w.bytes(s.Name[:])
	w.key(s.Treasurer)
	w.u64(s.RateAmountUnits)
	w.u64(s.RateIntervalInSeconds)
	w.u64(s.StartUTC)
	w.u64(s.CliffVestAmountUnits)
	w.u64(s.CliffVestPercent)
	w.key(s.Beneficiary)
	w.key(s.BeneficiaryHolding)
	w.key(s.Treasury)
	w.u64(s.AllocationAssignedUnits)
	w.u64(0) // reserved allocation, no longer used
	w.u64(s.TotalWithdrawalsUnits)
	w.u64(s.LastWithdrawalUnits)
	w.u64(s.LastWithdrawalSlot)
	w.u64(s.LastWithdrawalBlockTime)
	w.u64(s.LastManualStopWithdrawableUnitsSnap)
	w.u64(s.LastManualStopSlot)
	w.u64(s.LastManualStopBlockTime)
	w.u64(s.LastManualResumeRemainingAllocationUnitsSnap)
	w.u64(s.LastManualResumeSlot)
	w.u64(s.LastManualResumeBlockTime)
	w.u64(s.LastKnownTotalSecondsInPausedStatus)
	w.u64(s.LastAutoStopBlockTime)
	w.bool(s.FeePayedByTreasurer)
	w.u64(s.StartUTCInSeconds)
	w.u64(s.CreatedOnUTC)
	return w.buf
}

// DecodeStream parses a stream record.
func DecodeStream(data []byte) (*stream.Stream, error) {
	if len(data) != StreamSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidStreamSize, len(data), StreamSize)
	}
	r := &reader{buf: data}
	if d := r.bytes(8); [8]byte(d) != streamDiscriminator {
		return nil, fmt.Errorf("stream: %w", ErrAccountDiscriminatorMiss)
	}

	s := &stream.Stream{}
	s.Version = r.u8()
	if s.Version != stream.Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStreamVersion, s.Version)
	}
	s.Initialized = r.bool()
	if !s.Initialized {
		return nil, ErrStreamNotInitialized
	}
	copy(s.Name[:], r.bytes(len(s.Name)))
	s.Treasurer = r.key()
	s.RateAmountUnits = r.u64()
	s.RateIntervalInSeconds = r.u64()
	s.StartUTC = r.u64()
	s.CliffVestAmountUnits = r.u64()
	s.CliffVestPercent = r.u64()
	s.Beneficiary = r.key()
	s.BeneficiaryHolding = r.key()
	s.Treasury = r.key()
	s.AllocationAssignedUnits = r.u64()
	r.u64()
	s.TotalWithdrawalsUnits = r.u64()
	s.LastWithdrawalUnits = r.u64()
	s.LastWithdrawalSlot = r.u64()
	s.LastWithdrawalBlockTime = r.u64()
	s.LastManualStopWithdrawableUnitsSnap = r.u64()
	s.LastManualStopSlot = r.u64()
	s.LastManualStopBlockTime = r.u64()
	s.LastManualResumeRemainingAllocationUnitsSnap = r.u64()
	s.LastManualResumeSlot = r.u64()
	s.LastManualResumeBlockTime = r.u64()
	s.LastKnownTotalSecondsInPausedStatus = r.u64()
	s.LastAutoStopBlockTime = r.u64()
	s.FeePayedByTreasurer = r.bool()
	s.StartUTCInSeconds = r.u64()
	s.CreatedOnUTC = r.u64()
	return s, nil
}

// EncodeTreasury serializes a treasury into its fixed-size record.
func EncodeTreasury(t *treasury.Treasury) []byte {
	w := newWriter(TreasurySize)
	w.bytes(treasuryDiscriminator[:])
	w.u8(t.Version)
	w.bool(t.Initialized)
	w.bytes(t.Name[:])
	w.key(t.Treasurer)
	w.key(t.Holding)
	w.key(t.Mint)
	w.u64(t.LastKnownBalanceUnits)
	w.u64(t.LastKnownBalanceSlot)
	w.u64(t.LastKnownBalanceBlockTime)
	w.u64(t.AllocationAssignedUnits)
	w.u64(t.TotalWithdrawalsUnits)
	w.u64(t.TotalStreams)
	w.u64(t.CreatedOnUTC)
	w.u8(uint8(t.Type))
	w.bool(t.AutoClose)
	w.bool(t.SolFeePayedByTreasury)
	w.u8(uint8(t.Category))
	return w.buf
}

// DecodeTreasury parses a treasury record.
func DecodeTreasury(data []byte) (*treasury.Treasury, error) {
	if len(data) != TreasurySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidTreasurySize, len(data), TreasurySize)
	}
	r := &reader{buf: data}
	if d := r.bytes(8); [8]byte(d) != treasuryDiscriminator {
		return nil, fmt.Errorf("treasury: %w", ErrAccountDiscriminatorMiss)
	}

	t := &treasury.Treasury{}
	t.Version = r.u8()
	if t.Version != treasury.Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTreasuryVersion, t.Version)
	}
	t.Initialized = r.bool()
	if !t.Initialized {
		return nil, ErrTreasuryNotInitialized
	}
	copy(t.Name[:], r.bytes(len(t.Name)))
	t.Treasurer = r.key()
	t.Holding = r.key()
	t.Mint = r.key()
	t.LastKnownBalanceUnits = r.u64()
	t.LastKnownBalanceSlot = r.u64()
	t.LastKnownBalanceBlockTime = r.u64()
	t.AllocationAssignedUnits = r.u64()
	t.TotalWithdrawalsUnits = r.u64()
	t.TotalStreams = r.u64()
	t.CreatedOnUTC = r.u64()
	t.Type = treasury.Type(r.u8())
	t.AutoClose = r.bool()
	t.SolFeePayedByTreasury = r.bool()
	t.Category = treasury.Category(r.u8())
	return t, nil
}

// writer fills a zeroed buffer front to back. The layouts above fit well
// inside their record sizes, so no bounds are checked.
type writer struct {
	buf []byte
	off int
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) u8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) bytes(b []byte) {
	w.off += copy(w.buf[w.off:], b)
}

func (w *writer) key(k solana.PublicKey) {
	w.bytes(k[:])
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) bool() bool {
	return r.u8() != 0
}

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) key() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.bytes(solana.PublicKeyLength))
}
