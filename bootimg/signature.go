// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The kernelflinger authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package bootimg

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// bootSignature is the ASN.1 structure appended to a signed boot
// image:
//
//	AndroidVerifiedBootSignature ::= SEQUENCE {
//	    formatVersion            INTEGER,
//	    certificate              Certificate,
//	    algorithmIdentifier      AlgorithmIdentifier,
//	    authenticatedAttributes  AuthenticatedAttributes,
//	    signature                OCTET STRING
//	}
type bootSignature struct {
	FormatVersion int64
	Certificate   asn1.RawValue
	AlgorithmID   asn1.RawValue
	Attributes    authenticatedAttributes
	Signature     []byte
}

// authenticatedAttributes binds the signature to a target label and
// the exact image length, both covered by the signed digest.
type authenticatedAttributes struct {
	Target string
	Length int64
}

const signatureFormatVersion = 1

// RSAVerifier verifies appended boot signatures against an RSA
// keystore: the image is accepted when the embedded certificate's
// public key matches a key in the keystore and the signature checks
// out over the image and its authenticated attributes.
type RSAVerifier struct {
	// Keys are the trusted public keys, typically the OEM key plus
	// any user installed ones.
	Keys []*rsa.PublicKey
}

// VerifyBootImage implements Verifier. The returned label is the
// target recorded in the authenticated attributes, e.g. "/boot".
func (v *RSAVerifier) VerifyBootImage(img *Image, keystore []byte) (string, error) {
	keys := v.Keys
	if len(keystore) > 0 {
		extra, err := DecodeKeystore(keystore)
		if err != nil {
			return "", err
		}
		keys = append(keys, extra...)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("cannot verify boot image: empty keystore")
	}

	imageLen := img.Header.Size()
	if uint64(len(img.Data)) <= imageLen {
		return "", fmt.Errorf("cannot verify boot image: no signature present")
	}
	var sig bootSignature
	if _, err := asn1.Unmarshal(img.Data[imageLen:], &sig); err != nil {
		return "", fmt.Errorf("cannot parse boot signature: %v", err)
	}
	if sig.FormatVersion != signatureFormatVersion {
		return "", fmt.Errorf("unsupported boot signature version %d", sig.FormatVersion)
	}
	if sig.Attributes.Length != int64(imageLen) {
		return "", fmt.Errorf("boot signature covers %d bytes, image has %d", sig.Attributes.Length, imageLen)
	}

	cert, err := x509.ParseCertificate(sig.Certificate.FullBytes)
	if err != nil {
		return "", fmt.Errorf("cannot parse boot signature certificate: %v", err)
	}
	certKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("boot signature certificate carries no RSA key")
	}
	if !keystoreContains(keys, certKey) {
		return "", fmt.Errorf("boot signature certificate key not in keystore")
	}

	// the digest covers the raw image followed by the re-encoded
	// authenticated attributes
	attrs, err := asn1.Marshal(sig.Attributes)
	if err != nil {
		return "", fmt.Errorf("internal error: cannot encode authenticated attributes: %v", err)
	}
	h := sha256.New()
	h.Write(img.Data[:imageLen])
	h.Write(attrs)
	if err := rsa.VerifyPKCS1v15(certKey, crypto.SHA256, h.Sum(nil), sig.Signature); err != nil {
		return "", fmt.Errorf("boot signature mismatch: %v", err)
	}
	return sig.Attributes.Target, nil
}

// SignImage appends a boot signature to a bare image buffer. Used by
// the image assembly tooling and the test suite, the boot flow itself
// only ever verifies.
func SignImage(data []byte, key *rsa.PrivateKey, certDER []byte, target string) ([]byte, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	imageLen := hdr.Size()
	if uint64(len(data)) < imageLen {
		return nil, fmt.Errorf("cannot sign boot image: truncated image")
	}
	attributes := authenticatedAttributes{Target: target, Length: int64(imageLen)}
	attrs, err := asn1.Marshal(attributes)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(data[:imageLen])
	h.Write(attrs)
	sigBytes, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("cannot sign boot image: %v", err)
	}

	blob, err := asn1.Marshal(bootSignature{
		FormatVersion: signatureFormatVersion,
		Certificate:   asn1.RawValue{FullBytes: certDER},
		AlgorithmID:   asn1.RawValue{FullBytes: sha256WithRSAEncryptionOID},
		Attributes:    attributes,
		Signature:     sigBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot encode boot signature: %v", err)
	}
	if len(blob) > SignatureMaxSize {
		return nil, fmt.Errorf("boot signature too large: %d bytes", len(blob))
	}
	return append(data[:imageLen:imageLen], blob...), nil
}

// DER encoding of AlgorithmIdentifier{sha256WithRSAEncryption, NULL}
var sha256WithRSAEncryptionOID = []byte{
	0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86,
	0xf7, 0x0d, 0x01, 0x01, 0x0b, 0x05, 0x00,
}

// DecodeKeystore decodes a keystore blob: a DER SEQUENCE of
// SubjectPublicKeyInfo entries.
func DecodeKeystore(keystore []byte) ([]*rsa.PublicKey, error) {
	var entries []asn1.RawValue
	if _, err := asn1.Unmarshal(keystore, &entries); err != nil {
		return nil, fmt.Errorf("cannot parse keystore: %v", err)
	}
	keys := make([]*rsa.PublicKey, 0, len(entries))
	for i, e := range entries {
		pub, err := x509.ParsePKIXPublicKey(e.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("cannot parse keystore entry %d: %v", i, err)
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("keystore entry %d is not an RSA key", i)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func keystoreContains(keys []*rsa.PublicKey, key *rsa.PublicKey) bool {
	for _, k := range keys {
		if k.E == key.E && k.N.Cmp(key.N) == 0 {
			return true
		}
	}
	return false
}

// EncodeKeystore builds a keystore blob from public keys, the inverse
// of DecodeKeystore.
func EncodeKeystore(keys []*rsa.PublicKey) ([]byte, error) {
	entries := make([]asn1.RawValue, 0, len(keys))
	for _, k := range keys {
		der, err := x509.MarshalPKIXPublicKey(k)
		if err != nil {
			return nil, err
		}
		entries = append(entries, asn1.RawValue{FullBytes: der})
	}
	blob, err := asn1.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return blob, nil
}
