package committee

import (
	"fmt"

	"Attestor/internal/hasher"
	"Attestor/internal/signature"
	"Attestor/internal/verifier"
	"Attestor/internal/weight"
)

// Committee holds the private keys behind a verifier set and produces
// signing infos for payload roots. It models the off-chain signer side.
type Committee struct {
	hash hasher.Function                               // hash is the protocol hash function
	set  *verifier.Set                                 // set is the committed verifier set
	keys map[signature.PublicKey]*signature.PrivateKey // keys maps members to their signing keys
}

// New builds a committee from existing keys. weights[i] belongs to keys[i].
func New(h hasher.Function, keys []*signature.PrivateKey, weights []weight.Weight, quorum weight.Weight, nonce uint64, domainSeparator hasher.Hash) (*Committee, error) {
	if len(keys) != len(weights) {
		return nil, fmt.Errorf("got %d keys and %d weights", len(keys), len(weights))
	}

	signers := make([]verifier.Signer, len(keys))
	byPub := make(map[signature.PublicKey]*signature.PrivateKey, len(keys))

	for i, key := range keys {
		pub := signature.PublicKeyOf(key)
		signers[i] = verifier.Signer{PublicKey: pub, Weight: weights[i]}
		byPub[pub] = key
	}

	set, err := verifier.New(h, nonce, signers, quorum, domainSeparator)
	if err != nil {
		return nil, fmt.Errorf("build verifier set:\n%w", err)
	}

	return &Committee{hash: h, set: set, keys: byPub}, nil
}

// Generate creates a committee with fresh random keys.
func Generate(h hasher.Function, weights []weight.Weight, quorum weight.Weight, nonce uint64, domainSeparator hasher.Hash) (*Committee, error) {
	keys := make([]*signature.PrivateKey, len(weights))

	for i := range keys {
		key, err := signature.GenerateKey()
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	return New(h, keys, weights, quorum, nonce, domainSeparator)
}

// Uniform returns n weights of 1.
func Uniform(n int) []weight.Weight {
	weights := make([]weight.Weight, n)
	for i := range weights {
		weights[i] = weight.FromUint64(1)
	}
	return weights
}

// Set returns the committee's verifier set.
func (c *Committee) Set() *verifier.Set {
	return c.set
}

// Root returns the verifier set root.
func (c *Committee) Root() hasher.Hash {
	return c.set.Root()
}

// Key returns the private key of the signer at position.
func (c *Committee) Key(position int) *signature.PrivateKey {
	return c.keys[c.set.Leaf(position).PublicKey]
}

// Sign returns the signing info of the signer at position for payloadRoot.
func (c *Committee) Sign(payloadRoot hasher.Hash, position int) (verifier.SigningInfo, error) {
	if position < 0 || position >= c.set.Len() {
		return verifier.SigningInfo{}, fmt.Errorf("position %d out of range [0, %d)", position, c.set.Len())
	}

	digest := signature.PrefixedHash(c.hash, payloadRoot)
	sig := signature.Sign(c.Key(position), digest)

	return c.set.SigningInfo(position, sig)
}

// SignAll returns signing infos for every member, in position order.
func (c *Committee) SignAll(payloadRoot hasher.Hash) ([]verifier.SigningInfo, error) {
	infos := make([]verifier.SigningInfo, c.set.Len())

	for i := range infos {
		info, err := c.Sign(payloadRoot, i)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}

	return infos, nil
}
