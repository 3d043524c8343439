package resulttype

// HCV covers hepatitis C screening: antibody ELISA and/or PCR for viral RNA,
// with an optional free-text genotype once RNA is detected.
var HCV Variant = assay{
	tag:   "hcv",
	coded: []string{"elisa", "rna_pcr"},
	free:  []string{"genotype"},
}
