package ioadapter

// Kind names a foreign server type a CREATE SOURCE READER/SINK WRITER
// statement can declare via its TYPE clause (spec.md's supplemented
// ServerType/ServerModel feature). Each Kind has exactly one
// subpackage that knows how to build a Reader or Writer for it.
type Kind string

const (
	KindNetServer     Kind = "NET_SERVER"
	KindNetClient     Kind = "NET_CLIENT"
	KindDB            Kind = "DB"
	KindS3            Kind = "S3"
	KindInMemoryQueue Kind = "IN_MEMORY_QUEUE"
)
