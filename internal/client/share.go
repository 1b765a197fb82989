package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/keychain"
	"secure-notes/internal/wire"
)

// PublicKey looks up another user's public keys. The endpoint is gated by
// proof of work.
func (c *Client) PublicKey(ctx context.Context, username string) (*wire.PublicKeyResponse, error) {
	var out wire.PublicKeyResponse
	err := c.withPoW(ctx, wire.PathPublicKey, func(sol *wire.PoWSolution) any {
		return wire.PublicKeyRequest{Username: username, PoW: sol}
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Share offers ks and the note noteID to recipient, sealed to their box key.
func (c *Client) Share(ctx context.Context, recipient, noteID string, ks *keychain.KeySet) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	pub, err := c.PublicKey(ctx, recipient)
	if err != nil {
		return err
	}
	return c.ShareWith(ctx, recipient, pub, noteID, ks)
}

// ShareWith is Share with the recipient's public keys already looked up.
func (c *Client) ShareWith(ctx context.Context, recipient string, pub *wire.PublicKeyResponse, noteID string, ks *keychain.KeySet) error {
	if err := c.requireOnline(); err != nil {
		return err
	}
	username, _, sig, err := c.identity()
	if err != nil {
		return err
	}
	box, err := cr.BoxPublicKey(pub.BoxPub)
	if err != nil {
		return err
	}
	material, err := ks.Export()
	if err != nil {
		return err
	}
	defer cr.Zero(material)

	info := wire.NoteShareInfo{
		Sender:   username,
		NoteID:   noteID,
		KeyID:    ks.ID,
		KeyName:  ks.Name,
		KeyMeta:  ks.Meta,
		Material: material,
	}
	info.Signature = sig.Sign(info.Digest())
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	defer cr.Zero(raw)
	data, err := cr.SealTo(box, raw)
	if err != nil {
		return err
	}
	return c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathShare,
		body:   wire.ShareRequest{Recipient: recipient, Data: data},
		signed: true,
	}, nil)
}

// Offer is a decrypted pending share.
type Offer struct {
	ID      string
	Sender  string
	Created time.Time
	Info    wire.NoteShareInfo
}

// ShareOffers lists pending offers addressed to this account. Offers that do
// not decrypt are skipped.
func (c *Client) ShareOffers(ctx context.Context) ([]Offer, error) {
	if err := c.requireOnline(); err != nil {
		return nil, err
	}
	_, _, sig, err := c.identity()
	if err != nil {
		return nil, err
	}
	var raw []wire.ShareOffer
	err = c.send(ctx, request{method: http.MethodPost, path: wire.PathShareOffers, body: struct{}{}, signed: true}, &raw)
	if err != nil {
		return nil, err
	}
	offers := make([]Offer, 0, len(raw))
	for _, o := range raw {
		pt, err := sig.Open(o.Data)
		if err != nil {
			c.log.Warn().Err(err).Str("offer", o.ID).Msg("skip undecryptable share offer")
			continue
		}
		var info wire.NoteShareInfo
		err = json.Unmarshal(pt, &info)
		cr.Zero(pt)
		if err != nil {
			c.log.Warn().Err(err).Str("offer", o.ID).Msg("skip malformed share offer")
			continue
		}
		offers = append(offers, Offer{ID: o.ID, Sender: o.Sender, Created: o.Created, Info: info})
	}
	return offers, nil
}

// AcceptShare verifies the sender's signature, imports the offered key if it
// is not already in the chain and consumes the offer.
func (c *Client) AcceptShare(ctx context.Context, o Offer) (*keychain.KeySet, error) {
	if err := c.requireOnline(); err != nil {
		return nil, err
	}
	defer cr.Zero(o.Info.Material)
	if o.Info.Sender != o.Sender {
		return nil, fmt.Errorf("%w: sender mismatch", ErrBadShare)
	}
	pub, err := c.PublicKey(ctx, o.Sender)
	if err != nil {
		return nil, err
	}
	if !cr.Verify(pub.SignPub, o.Info.Digest(), o.Info.Signature) {
		return nil, fmt.Errorf("%w: bad signature", ErrBadShare)
	}

	ks, ok := c.keys.ByID(o.Info.KeyID)
	if !ok {
		ks, err = keychain.Import(o.Info.KeyID, o.Info.KeyName, o.Info.KeyMeta, o.Info.Material)
		if err != nil {
			return nil, err
		}
		if err := c.storeKey(ctx, ks); err != nil {
			ks.Destroy()
			return nil, err
		}
	}
	if err := c.DeclineShare(ctx, o.ID); err != nil {
		return nil, err
	}
	return ks, nil
}

// DeclineShare deletes a pending offer.
func (c *Client) DeclineShare(ctx context.Context, id string) error {
	return c.send(ctx, request{
		method: http.MethodPost,
		path:   wire.PathShareDelete,
		body:   wire.ShareDeleteRequest{ID: id},
		signed: true,
	}, nil)
}
