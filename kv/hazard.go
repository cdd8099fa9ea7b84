package kv

import "go.uber.org/zap"

// Pairing classifies the sub-stores a split touches: the one read
// through the ReadView and the one written through the WriteView.
type Pairing int

const (
	// CrossSubStore reads one named or unnamed sub-store and writes a
	// different one.  Sound.
	CrossSubStore Pairing = iota
	// SameSubStore reads and writes the same sub-store.  Dirty bbolt
	// nodes are shifted in place by put and delete, so read-side
	// cursors skip or repeat entries.
	SameSubStore
	// RootDirectory reads the unnamed sub-store while writing a named
	// one.  The unnamed sub-store shares its node with the directory
	// entries of named sub-stores, which writes may create.
	RootDirectory
)

func (p Pairing) String() string {
	switch p {
	case CrossSubStore:
		return "cross"
	case SameSubStore:
		return "same"
	case RootDirectory:
		return "root"
	}
	return "unknown"
}

// Sound reports whether reading and writing through split views with
// this pairing keeps both views consistent.
func (p Pairing) Sound() bool {
	return p == CrossSubStore
}

// Classify returns the pairing of reading sub-store read while writing
// sub-store write.  The empty name is the unnamed sub-store.
//
//	read == write        SameSubStore
//	read == ""           RootDirectory
//	otherwise            CrossSubStore
//
// Writing the unnamed sub-store while reading a named one is sound:
// the named sub-store's bucket is materialized separately and its
// directory entry is not moved by puts of plain keys.
func Classify(read, write string) Pairing {
	switch {
	case read == write:
		return SameSubStore
	case read == "":
		return RootDirectory
	}
	return CrossSubStore
}

// Hazard records one unsound pairing observed during a split.
type Hazard struct {
	// Split is the split generation of the transaction, starting at 1.
	Split   uint64
	Read    string
	Write   string
	Pairing Pairing
}

// audit tracks the sub-stores touched through each view of one split.
// Every (read, write) pair is classified once, when the later of the
// two is first touched.
type audit struct {
	reads   map[string]struct{}
	writes  map[string]struct{}
	hazards []Hazard
}

func newAudit() *audit {
	return &audit{
		reads:  make(map[string]struct{}),
		writes: make(map[string]struct{}),
	}
}

func (s *session) noteRead(name string) {
	a := s.audit
	if _, ok := a.reads[name]; ok {
		return
	}
	a.reads[name] = struct{}{}
	for w := range a.writes {
		s.check(name, w)
	}
}

func (s *session) noteWrite(name string) {
	a := s.audit
	if _, ok := a.writes[name]; ok {
		return
	}
	a.writes[name] = struct{}{}
	for r := range a.reads {
		s.check(r, name)
	}
}

func (s *session) check(read, write string) {
	p := Classify(read, write)
	if p.Sound() {
		return
	}
	h := Hazard{Split: s.gen, Read: read, Write: write, Pairing: p}
	s.audit.hazards = append(s.audit.hazards, h)
	env := s.st.env
	env.log.Warn("unsound split pairing",
		zap.Uint64("split", s.gen),
		zap.String("read", displayName(read)),
		zap.String("write", displayName(write)),
		zap.Stringer("pairing", p))
	env.metrics.hazard(p)
}

func displayName(name string) string {
	if name == "" {
		return "<unnamed>"
	}
	return name
}
