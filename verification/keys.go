// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/matrix-commander/lib/cryptostore"
	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// Algorithms advertised in this device's published keys.
var deviceAlgorithms = []string{"m.olm.v1.curve25519-aes-sha2", "m.megolm.v1.aes-sha2"}

const storeKeyDeviceKeys = "device/keys"

// deviceKeyRecord is this device's identity key material as kept in
// the local store.
type deviceKeyRecord struct {
	DeviceID    string `cbor:"device_id"`
	Ed25519Seed []byte `cbor:"ed25519_seed"`
	Curve25519  []byte `cbor:"curve25519"`
	Published   bool   `cbor:"published"`
}

// TrustRecord is written to the store for a device verified by a
// completed handshake, under "trust/<user>/<device>".
type TrustRecord struct {
	UserID     string `cbor:"user_id"`
	DeviceID   string `cbor:"device_id"`
	Ed25519    string `cbor:"ed25519"`
	VerifiedAt int64  `cbor:"verified_at"`
}

// TrustKey is the store key of a device's TrustRecord.
func TrustKey(userID ref.UserID, deviceID string) string {
	return "trust/" + userID.String() + "/" + deviceID
}

// EnsureDeviceKeys loads this device's identity keys from the store,
// generating them on first use, and publishes them once. The other
// side of a handshake needs the Ed25519 key to check our MAC.
func EnsureDeviceKeys(ctx context.Context, transport Transport, store KeyStore, random io.Reader, logger *slog.Logger) (Identity, error) {
	userID, deviceID := transport.UserID(), transport.DeviceID()
	if random == nil {
		random = rand.Reader
	}

	var record deviceKeyRecord
	err := store.Get(ctx, storeKeyDeviceKeys, &record)
	if err != nil && !errors.Is(err, cryptostore.ErrNotFound) {
		return Identity{}, fmt.Errorf("loading device keys: %w", err)
	}
	if err != nil || record.DeviceID != deviceID.String() {
		record, err = generateDeviceKeys(deviceID, random)
		if err != nil {
			return Identity{}, err
		}
		if err := store.Put(ctx, storeKeyDeviceKeys, record); err != nil {
			return Identity{}, fmt.Errorf("saving device keys: %w", err)
		}
		logger.Info("generated device keys", "device_id", deviceID)
	}

	signing := ed25519.NewKeyFromSeed(record.Ed25519Seed)
	identity := Identity{
		UserID:   userID,
		DeviceID: deviceID,
		Ed25519:  encodeKey(signing.Public().(ed25519.PublicKey)),
	}
	if record.Published {
		return identity, nil
	}

	keys, err := signedDeviceKeys(userID, deviceID, signing, record.Curve25519)
	if err != nil {
		return Identity{}, err
	}
	if _, err := transport.UploadKeys(ctx, keys); err != nil {
		return Identity{}, fmt.Errorf("publishing device keys: %w", err)
	}
	record.Published = true
	if err := store.Put(ctx, storeKeyDeviceKeys, record); err != nil {
		return Identity{}, fmt.Errorf("saving device keys: %w", err)
	}
	logger.Info("published device keys", "device_id", deviceID, "ed25519", identity.Ed25519)
	return identity, nil
}

func generateDeviceKeys(deviceID ref.DeviceID, random io.Reader) (deviceKeyRecord, error) {
	_, signing, err := ed25519.GenerateKey(random)
	if err != nil {
		return deviceKeyRecord{}, fmt.Errorf("generating signing key: %w", err)
	}
	identityKey, err := newCurveKey(random)
	if err != nil {
		return deviceKeyRecord{}, fmt.Errorf("generating identity key: %w", err)
	}
	return deviceKeyRecord{
		DeviceID:    deviceID.String(),
		Ed25519Seed: signing.Seed(),
		Curve25519:  identityKey.private[:],
	}, nil
}

// signedDeviceKeys builds the device_keys object and signs it with the
// device's own Ed25519 key.
func signedDeviceKeys(userID ref.UserID, deviceID ref.DeviceID, signing ed25519.PrivateKey, curvePrivate []byte) (messaging.DeviceKeys, error) {
	var identityKey curveKey
	if copy(identityKey.private[:], curvePrivate) != len(identityKey.private) {
		return messaging.DeviceKeys{}, fmt.Errorf("stored curve25519 key is %d bytes", len(curvePrivate))
	}
	curvePublic, err := identityKey.publicKey()
	if err != nil {
		return messaging.DeviceKeys{}, err
	}

	keyID := "ed25519:" + deviceID.String()
	keys := messaging.DeviceKeys{
		UserID:     userID,
		DeviceID:   deviceID,
		Algorithms: deviceAlgorithms,
		Keys: map[string]string{
			"curve25519:" + deviceID.String(): curvePublic,
			keyID:                             encodeKey(signing.Public().(ed25519.PublicKey)),
		},
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return messaging.DeviceKeys{}, fmt.Errorf("encoding device keys: %w", err)
	}
	signable, err := signableJSON(encoded)
	if err != nil {
		return messaging.DeviceKeys{}, err
	}
	keys.Signatures = map[string]map[string]string{
		userID.String(): {keyID: encodeKey(ed25519.Sign(signing, signable))},
	}
	return keys, nil
}

// VerifyDeviceKeys checks that keys belong to userID's deviceID and are
// self-signed, and returns the device's Ed25519 key.
func VerifyDeviceKeys(keys messaging.DeviceKeys, userID ref.UserID, deviceID string) (string, error) {
	if keys.UserID != userID || keys.DeviceID.String() != deviceID {
		return "", fmt.Errorf("keys are for %s/%s, not %s/%s", keys.UserID, keys.DeviceID, userID, deviceID)
	}
	keyID := "ed25519:" + deviceID
	encodedKey, ok := keys.Keys[keyID]
	if !ok {
		return "", fmt.Errorf("device publishes no %s key", keyID)
	}
	publicKey, err := decodeKey(encodedKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("device %s key is malformed", keyID)
	}
	signature, err := decodeKey(keys.Signatures[userID.String()][keyID])
	if err != nil || len(signature) != ed25519.SignatureSize {
		return "", fmt.Errorf("device keys carry no valid self-signature")
	}

	raw := []byte(keys.Raw)
	if len(raw) == 0 {
		if raw, err = json.Marshal(keys); err != nil {
			return "", fmt.Errorf("encoding device keys: %w", err)
		}
	}
	signable, err := signableJSON(raw)
	if err != nil {
		return "", err
	}
	if !ed25519.Verify(publicKey, signable, signature) {
		return "", fmt.Errorf("device keys self-signature does not verify")
	}
	return encodedKey, nil
}
