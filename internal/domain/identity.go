package domain

// Identity is one published version of a party's identity document.
// Permalink stays fixed across versions; Link identifies this version and
// PrevLink chains it to the previous one.
type Identity struct {
	Permalink Permalink `json:"permalink"`
	Link      Link      `json:"link"`
	PrevLink  Link      `json:"prevLink,omitempty"`
	Name      string    `json:"name,omitempty"`
	Pubkeys   []PubKey  `json:"pubkeys"`
}

// HasKey reports whether the identity claims the given public key.
func (id *Identity) HasKey(pub PubKey) bool {
	for _, k := range id.Pubkeys {
		if k == pub {
			return true
		}
	}
	return false
}

// PubKeyMapping is the reverse index from a public key to the owning
// identity. Written once per contact key, looked up on every inbound message
// to resolve the author.
type PubKeyMapping struct {
	Pub       string    `json:"pub"`
	Link      Link      `json:"link"`
	Permalink Permalink `json:"permalink"`
}
