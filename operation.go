package anystore

// Operation identifies one accessor method. It is used for capability checks
// and to tag errors, log records and metrics.
type Operation int

const (
	OpUnknown Operation = iota
	OpInfo
	OpCreateDir
	OpStat
	OpRead
	OpWrite
	OpDelete
	OpList
	OpCopy
	OpRename
	OpPresign
	OpBatch

	// Handle operations run after the handle has been created.
	OpReaderRead
	OpWriterWrite
	OpWriterFinalize
	OpWriterAbort
	OpPagerNext
)

var operationNames = map[Operation]string{
	OpUnknown:        "unknown",
	OpInfo:           "info",
	OpCreateDir:      "create_dir",
	OpStat:           "stat",
	OpRead:           "read",
	OpWrite:          "write",
	OpDelete:         "delete",
	OpList:           "list",
	OpCopy:           "copy",
	OpRename:         "rename",
	OpPresign:        "presign",
	OpBatch:          "batch",
	OpReaderRead:     "reader.read",
	OpWriterWrite:    "writer.write",
	OpWriterFinalize: "writer.finalize",
	OpWriterAbort:    "writer.abort",
	OpPagerNext:      "pager.next",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return operationNames[OpUnknown]
}

// Parent returns the accessor operation a handle operation belongs to.
// Accessor operations return themselves.
func (o Operation) Parent() Operation {
	switch o {
	case OpReaderRead:
		return OpRead
	case OpWriterWrite, OpWriterFinalize, OpWriterAbort:
		return OpWrite
	case OpPagerNext:
		return OpList
	default:
		return o
	}
}

// Operations lists every accessor operation, in declaration order.
func Operations() []Operation {
	return []Operation{
		OpCreateDir, OpStat, OpRead, OpWrite, OpDelete,
		OpList, OpCopy, OpRename, OpPresign, OpBatch,
	}
}
