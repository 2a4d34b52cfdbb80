package anystore

// Capability describes what an accessor instance supports. A zero Capability
// supports nothing. Numeric limits use zero for "no limit".
//
// Layers may narrow a Capability but must never widen it, see Intersect.
type Capability struct {
	Stat                bool
	StatWithIfMatch     bool
	StatWithIfNoneMatch bool

	Read                bool
	ReadWithRange       bool
	ReadWithIfMatch     bool
	ReadWithIfNoneMatch bool

	Write                       bool
	WriteCanEmpty               bool
	WriteCanMulti               bool
	WriteWithContentType        bool
	WriteWithContentDisposition bool
	WriteWithIfNotExists        bool
	// WriteIdempotent reports that re-sending a chunk or re-issuing a
	// finalize after a failure cannot commit bytes twice.
	WriteIdempotent bool

	// WriteMultiMinSize is the smallest part a multipart writer may upload,
	// except for the last part.
	WriteMultiMinSize int64
	WriteMultiMaxSize int64
	WriteTotalMaxSize int64

	CreateDir bool

	Delete bool
	// DeleteMissingIsOK reports that deleting a missing path succeeds.
	// When false the backend returns a NotFound error instead.
	DeleteMissingIsOK bool

	List               bool
	ListWithLimit      bool
	ListWithStartAfter bool
	ListWithRecursive  bool

	Copy   bool
	Rename bool

	Presign      bool
	PresignRead  bool
	PresignStat  bool
	PresignWrite bool

	Batch              bool
	BatchMaxOperations int

	// Blocking reports that the accessor may be driven through a
	// BlockingOperator.
	Blocking bool
}

// Supports reports whether the operation is available. Handle operations are
// available whenever the operation that creates the handle is.
func (c Capability) Supports(op Operation) bool {
	switch op.Parent() {
	case OpInfo:
		return true
	case OpCreateDir:
		return c.CreateDir
	case OpStat:
		return c.Stat
	case OpRead:
		return c.Read
	case OpWrite:
		return c.Write
	case OpDelete:
		return c.Delete
	case OpList:
		return c.List
	case OpCopy:
		return c.Copy
	case OpRename:
		return c.Rename
	case OpPresign:
		return c.Presign && (c.PresignRead || c.PresignStat || c.PresignWrite)
	case OpBatch:
		return c.Batch
	default:
		return false
	}
}

// Intersect returns the capability supported by both c and o. Flags are
// and-ed, limits take the tighter of the two.
func (c Capability) Intersect(o Capability) Capability {
	return Capability{
		Stat:                c.Stat && o.Stat,
		StatWithIfMatch:     c.StatWithIfMatch && o.StatWithIfMatch,
		StatWithIfNoneMatch: c.StatWithIfNoneMatch && o.StatWithIfNoneMatch,

		Read:                c.Read && o.Read,
		ReadWithRange:       c.ReadWithRange && o.ReadWithRange,
		ReadWithIfMatch:     c.ReadWithIfMatch && o.ReadWithIfMatch,
		ReadWithIfNoneMatch: c.ReadWithIfNoneMatch && o.ReadWithIfNoneMatch,

		Write:                       c.Write && o.Write,
		WriteCanEmpty:               c.WriteCanEmpty && o.WriteCanEmpty,
		WriteCanMulti:               c.WriteCanMulti && o.WriteCanMulti,
		WriteWithContentType:        c.WriteWithContentType && o.WriteWithContentType,
		WriteWithContentDisposition: c.WriteWithContentDisposition && o.WriteWithContentDisposition,
		WriteWithIfNotExists:        c.WriteWithIfNotExists && o.WriteWithIfNotExists,
		WriteIdempotent:             c.WriteIdempotent && o.WriteIdempotent,
		WriteMultiMinSize:           maxLimit(c.WriteMultiMinSize, o.WriteMultiMinSize),
		WriteMultiMaxSize:           minLimit(c.WriteMultiMaxSize, o.WriteMultiMaxSize),
		WriteTotalMaxSize:           minLimit(c.WriteTotalMaxSize, o.WriteTotalMaxSize),

		CreateDir: c.CreateDir && o.CreateDir,

		Delete:            c.Delete && o.Delete,
		DeleteMissingIsOK: c.DeleteMissingIsOK && o.DeleteMissingIsOK,

		List:               c.List && o.List,
		ListWithLimit:      c.ListWithLimit && o.ListWithLimit,
		ListWithStartAfter: c.ListWithStartAfter && o.ListWithStartAfter,
		ListWithRecursive:  c.ListWithRecursive && o.ListWithRecursive,

		Copy:   c.Copy && o.Copy,
		Rename: c.Rename && o.Rename,

		Presign:      c.Presign && o.Presign,
		PresignRead:  c.PresignRead && o.PresignRead,
		PresignStat:  c.PresignStat && o.PresignStat,
		PresignWrite: c.PresignWrite && o.PresignWrite,

		Batch:              c.Batch && o.Batch,
		BatchMaxOperations: int(minLimit(int64(c.BatchMaxOperations), int64(o.BatchMaxOperations))),

		Blocking: c.Blocking && o.Blocking,
	}
}

// Without returns c with the given operations disabled.
func (c Capability) Without(ops ...Operation) Capability {
	for _, op := range ops {
		switch op.Parent() {
		case OpCreateDir:
			c.CreateDir = false
		case OpStat:
			c.Stat, c.StatWithIfMatch, c.StatWithIfNoneMatch = false, false, false
		case OpRead:
			c.Read, c.ReadWithRange, c.ReadWithIfMatch, c.ReadWithIfNoneMatch = false, false, false, false
		case OpWrite:
			c.Write, c.WriteCanEmpty, c.WriteCanMulti = false, false, false
			c.WriteWithContentType, c.WriteWithContentDisposition = false, false
			c.WriteWithIfNotExists, c.WriteIdempotent = false, false
		case OpDelete:
			c.Delete, c.DeleteMissingIsOK = false, false
		case OpList:
			c.List, c.ListWithLimit, c.ListWithStartAfter, c.ListWithRecursive = false, false, false, false
		case OpCopy:
			c.Copy = false
		case OpRename:
			c.Rename = false
		case OpPresign:
			c.Presign, c.PresignRead, c.PresignStat, c.PresignWrite = false, false, false, false
		case OpBatch:
			c.Batch = false
		}
	}
	return c
}

// Narrows reports whether c advertises nothing that parent lacks.
func (c Capability) Narrows(parent Capability) bool {
	return c.Intersect(parent) == c
}

func minLimit(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func maxLimit(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
