package owner

// ResetFunc erases all locally stored data for an owner. It is supplied by
// the storage layer (internal/history.Store.DeleteOwner) so this package
// does not need to know about SQL at all.
type ResetFunc func(ownerID string) error

// Reset erases all local data belonging to o while leaving the mnemonic (and
// therefore the ability to re-derive the same identity) untouched — the
// spec's "may be reset (erases local data)" lifecycle transition (spec §3).
func (o *Owner) Reset(erase ResetFunc) error {
	return erase(o.ID)
}
