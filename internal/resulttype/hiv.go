package resulttype

// HIV covers the HIV screening workflow: an ELISA screen optionally
// confirmed by immunoblot. A record missing both carries no result and is
// rejected.
var HIV Variant = assay{
	tag:   "hiv",
	coded: []string{"elisa", "immunoblot"},
}
