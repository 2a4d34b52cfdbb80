package anystore

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"iter"
	"strings"
)

const tokenPrefix = "v1:"

// Token is an opaque continuation token. Backends build it from their own
// cursor format with NewToken; callers only see its String form.
type Token struct {
	cursor string
}

// NewToken wraps a backend cursor. An empty cursor yields the zero Token.
func NewToken(cursor string) Token {
	return Token{cursor: cursor}
}

// ParseToken decodes a token previously produced by Token.String.
func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{}, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, &Error{Kind: KindInvalidInput, Operation: OpList, Message: "invalid continuation token", Cause: err}
	}

	cursor, ok := strings.CutPrefix(string(decoded), tokenPrefix)
	if !ok || cursor == "" {
		return Token{}, &Error{Kind: KindInvalidInput, Operation: OpList, Message: "invalid continuation token"}
	}
	return Token{cursor: cursor}, nil
}

// Cursor returns the backend cursor. Only the backend that issued the
// token can interpret it.
func (t Token) Cursor() string { return t.cursor }

func (t Token) IsZero() bool { return t.cursor == "" }

func (t Token) String() string {
	if t.cursor == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(tokenPrefix + t.cursor))
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	parsed, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PageFunc fetches the page starting at cursor. It returns the cursor of
// the following page, or "" when the listing ends with this page. The first
// page is fetched with the start cursor, "" for a fresh listing.
type PageFunc func(ctx context.Context, cursor string) (entries []Entry, next string, err error)

// PageIterator turns a PageFunc into a Pager. Backends use it to hide
// their pagination mechanics behind Token.
type PageIterator struct {
	fetch  PageFunc
	cursor string
	done   bool
}

// NewPager creates a pager starting from start.
func NewPager(fetch PageFunc, start Token) *PageIterator {
	return &PageIterator{fetch: fetch, cursor: start.cursor}
}

// NextPage fetches the next non-empty page.
func (p *PageIterator) NextPage(ctx context.Context) ([]Entry, error) {
	for !p.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries, next, err := p.fetch(ctx, p.cursor)
		if err != nil {
			return nil, err
		}

		p.cursor = next
		if next == "" {
			p.done = true
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return nil, io.EOF
}

func (p *PageIterator) Token() Token {
	if p.done {
		return Token{}
	}
	return Token{cursor: p.cursor}
}

func (p *PageIterator) Close() error {
	p.done = true
	return nil
}

// EntriesPager serves a listing that is already in memory.
func EntriesPager(entries []Entry) Pager {
	served := false
	return NewPager(func(context.Context, string) ([]Entry, string, error) {
		if served {
			return nil, "", nil
		}
		served = true
		return entries, "", nil
	}, Token{})
}

// flatPager lists recursively on top of one-level listings, walking
// directories breadth first. It cannot be resumed from a token.
type flatPager struct {
	acc   Accessor
	opts  ListOptions
	queue []string
	dir   string
	cur   Pager
	done  bool
}

func newFlatPager(acc Accessor, path string, opts ListOptions) *flatPager {
	opts.Recursive = false
	opts.Token = Token{}
	return &flatPager{acc: acc, opts: opts, queue: []string{path}}
}

func (p *flatPager) NextPage(ctx context.Context) ([]Entry, error) {
	for !p.done {
		if p.cur == nil {
			if len(p.queue) == 0 {
				p.done = true
				break
			}
			pager, err := p.acc.List(ctx, p.queue[0], p.opts)
			if err != nil {
				return nil, err
			}
			p.dir, p.cur = p.queue[0], pager
			p.queue = p.queue[1:]
		}

		entries, err := p.cur.NextPage(ctx)
		if errors.Is(err, io.EOF) {
			_ = p.cur.Close()
			p.cur = nil
			continue
		}
		if err != nil {
			return nil, err
		}

		out := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.Path == p.dir {
				continue
			}
			if e.Metadata.IsDir() || IsDir(e.Path) {
				p.queue = append(p.queue, e.Path)
			}
			out = append(out, e)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, io.EOF
}

func (p *flatPager) Token() Token { return Token{} }

func (p *flatPager) Close() error {
	p.done = true
	if p.cur != nil {
		err := p.cur.Close()
		p.cur = nil
		return err
	}
	return nil
}

// Lister iterates over the entries of a listing one at a time or page by
// page. It is returned by Operator.List.
type Lister struct {
	pager Pager
	wrap  func(error) error
	buf   []Entry
}

// NextPage returns the next batch of entries, or io.EOF at the end.
func (l *Lister) NextPage(ctx context.Context) ([]Entry, error) {
	if len(l.buf) > 0 {
		page := l.buf
		l.buf = nil
		return page, nil
	}
	entries, err := l.pager.NextPage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, l.wrap(err)
	}
	return entries, nil
}

// Next returns the next entry, or io.EOF at the end.
func (l *Lister) Next(ctx context.Context) (Entry, error) {
	for len(l.buf) == 0 {
		entries, err := l.pager.NextPage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Entry{}, io.EOF
			}
			return Entry{}, l.wrap(err)
		}
		l.buf = entries
	}
	e := l.buf[0]
	l.buf = l.buf[1:]
	return e, nil
}

// All iterates over the remaining entries. Iteration stops after the first
// error, which is yielded with a zero Entry.
func (l *Lister) All(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			e, err := l.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Token returns the continuation token of the next page. Entries already
// buffered by Next are not covered by it.
func (l *Lister) Token() Token { return l.pager.Token() }

func (l *Lister) Close() error { return l.pager.Close() }
