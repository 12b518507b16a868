package sharedregion

// InvalidateBeforeRead must be called before reading a shared node's
// mutable fields when the owning region has cache enabled (spec.md §4.E).
// It is a no-op when the region is cache-coherent.
func (d *Directory) InvalidateBeforeRead(regionID uint32) {
	if enabled, err := d.IsCacheEnabled(regionID); err == nil && enabled {
		mfence()
	}
}

// WriteBackAfterWrite must be called after mutating a shared node's
// mutable fields, to make the write visible to other processors before
// the enclosing GateMP is released (spec.md §4.E).
func (d *Directory) WriteBackAfterWrite(regionID uint32) {
	if enabled, err := d.IsCacheEnabled(regionID); err == nil && enabled {
		sfence()
	}
}
