package ndn

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	mh "github.com/multiformats/go-multihash"
)

// A Name is an immutable ordered sequence of opaque byte components. The
// final component of a full name is an implicit SHA2-256 multihash digest of
// the entity's encoded bytes; equality on full names certifies content
// identity.
type Name struct {
	comps [][]byte
}

// ParseName parses a URI of the form "/a/b/c". Components are
// percent-decoded, so binary components round-trip through String.
func ParseName(s string) (Name, error) {
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Name{}, nil
	}
	var n Name
	for _, part := range strings.Split(s, "/") {
		comp, err := url.PathUnescape(part)
		if err != nil {
			return Name{}, fmt.Errorf("failed to parse component %q: %w", part, err)
		} else if comp == "" {
			return Name{}, fmt.Errorf("empty component in %q", s)
		}
		n.comps = append(n.comps, []byte(comp))
	}
	return n, nil
}

// MustParseName parses a URI or panics. Only for use with hard-coded names.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Len returns the number of components.
func (n Name) Len() int { return len(n.comps) }

// Get returns component i. Negative values index from the end, so Get(-1) is
// the final component.
func (n Name) Get(i int) []byte {
	if i < 0 {
		i += len(n.comps)
	}
	return n.comps[i]
}

// Append returns a new name with the given components appended.
func (n Name) Append(comps ...[]byte) Name {
	out := make([][]byte, 0, len(n.comps)+len(comps))
	out = append(out, n.comps...)
	out = append(out, comps...)
	return Name{comps: out}
}

// AppendString returns a new name with the given string components appended.
func (n Name) AppendString(comps ...string) Name {
	out := make([][]byte, 0, len(n.comps)+len(comps))
	out = append(out, n.comps...)
	for _, c := range comps {
		out = append(out, []byte(c))
	}
	return Name{comps: out}
}

// AppendSeq returns a new name with a sequence-number component appended.
func (n Name) AppendSeq(seq uint64) Name {
	return n.Append([]byte(strconv.FormatUint(seq, 10)))
}

// Seq decodes component i as a non-negative sequence number.
func (n Name) Seq(i int) (uint64, error) {
	comp := n.Get(i)
	seq, err := strconv.ParseUint(string(comp), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("component %q is not a sequence number: %w", comp, err)
	}
	return seq, nil
}

// Prefix returns the name truncated to its first i components. Negative
// values drop components from the end, so Prefix(-1) strips the final
// component.
func (n Name) Prefix(i int) Name {
	if i < 0 {
		i += len(n.comps)
	}
	return Name{comps: n.comps[:i]}
}

// IsPrefixOf reports whether every component of n matches the leading
// components of other.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n.comps) > len(other.comps) {
		return false
	}
	for i, c := range n.comps {
		if !bytes.Equal(c, other.comps[i]) {
			return false
		}
	}
	return true
}

// Equal reports component-wise equality.
func (n Name) Equal(other Name) bool {
	return len(n.comps) == len(other.comps) && n.IsPrefixOf(other)
}

// Compare orders names component-wise, shorter names first on ties.
func (n Name) Compare(other Name) int {
	for i := 0; i < len(n.comps) && i < len(other.comps); i++ {
		if c := bytes.Compare(n.comps[i], other.comps[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(n.comps) < len(other.comps):
		return -1
	case len(n.comps) > len(other.comps):
		return 1
	default:
		return 0
	}
}

// WithDigest returns the full name formed by appending a digest component.
func (n Name) WithDigest(digest mh.Multihash) Name {
	return n.Append([]byte(digest))
}

// HasDigest reports whether the final component decodes as a SHA2-256
// multihash.
func (n Name) HasDigest() bool {
	if len(n.comps) == 0 {
		return false
	}
	dec, err := mh.Decode(n.comps[len(n.comps)-1])
	return err == nil && dec.Code == mh.SHA2_256
}

// Digest returns the digest component of a full name.
func (n Name) Digest() (mh.Multihash, bool) {
	if !n.HasDigest() {
		return nil, false
	}
	return mh.Multihash(n.comps[len(n.comps)-1]), true
}

// WithoutDigest strips the digest component, if present.
func (n Name) WithoutDigest() Name {
	if n.HasDigest() {
		return n.Prefix(-1)
	}
	return n
}

// String renders the name as a URI with percent-escaped components.
func (n Name) String() string {
	if len(n.comps) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n.comps {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(string(c)))
	}
	return sb.String()
}

// DigestOf computes the SHA2-256 multihash of the given encoded bytes for
// use as a full-name digest component.
func DigestOf(b []byte) mh.Multihash {
	digest, err := mh.Sum(b, mh.SHA2_256, -1)
	if err != nil {
		panic(err) // SHA2_256 is always registered
	}
	return digest
}
