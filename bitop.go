// Bit-level operations over a byte buffer, MSB-first. Used to parse the
// bitstream-level layout of AAC/AVC/HEVC/AV1 sequence headers embedded
// inside RTMP codec configuration records.

package main

type Bitop struct {
	buffer []byte
	buflen uint32
	bufpos uint32
	bufoff uint32
	iserro bool
}

func createBitop(buffer []byte) *Bitop {
	return &Bitop{
		buffer: buffer,
		buflen: uint32(len(buffer)),
	}
}

// Read consumes n bits MSB-first, advancing the cursor. Returns 0 and sets
// the error flag if the cursor would run past the end of the buffer; once
// set, the flag stays set and further reads keep returning 0.
func (b *Bitop) Read(n uint32) uint32 {
	var v uint32
	var d uint32

	for n > 0 {
		if b.iserro || b.bufpos >= b.buflen {
			b.iserro = true
			return 0
		}

		if b.bufoff+n > 8 {
			d = 8 - b.bufoff
		} else {
			d = n
		}

		v <<= d
		v += uint32((b.buffer[b.bufpos] >> byte(8-b.bufoff-d)) & (0xff >> byte(8-d)))

		b.bufoff += d
		n -= d

		if b.bufoff == 8 {
			b.bufpos++
			b.bufoff = 0
		}
	}

	return v
}

// Look reads n bits without advancing the cursor.
func (b *Bitop) Look(n uint32) uint32 {
	p := b.bufpos
	o := b.bufoff
	e := b.iserro

	v := b.Read(n)

	b.bufpos = p
	b.bufoff = o
	b.iserro = e

	return v
}

// Skip discards n bits without returning them.
func (b *Bitop) Skip(n uint32) {
	b.Read(n)
}

// ReadGolomb reads an Exp-Golomb coded unsigned integer: a run of k leading
// zero bits, then k+1 bits v, returning v-1.
func (b *Bitop) ReadGolomb() uint32 {
	var n uint32

	for b.Read(1) == 0 && !b.iserro {
		n++
		if n > 32 {
			b.iserro = true
			return 0
		}
	}

	return (1 << n) + b.Read(n) - 1
}

// Error reports whether any read ran past the end of the buffer. Consumers
// must check this after parsing a sequence header.
func (b *Bitop) Error() bool {
	return b.iserro
}
