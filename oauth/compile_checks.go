package oauth

var (
	_ ClientStore  = (*MemoryClientStore)(nil)
	_ ClientLister = (*MemoryClientStore)(nil)
	_ CodeStore    = (*KVCodeStore)(nil)
	_ TokenStore   = (*KVTokenStore)(nil)
)
