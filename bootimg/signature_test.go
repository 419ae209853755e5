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

package bootimg_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	. "gopkg.in/check.v1"

	"github.com/avoidik/hardware-intel-efi-kernelflinger/bootimg"
)

type signatureSuite struct {
	key  *rsa.PrivateKey
	cert []byte
}

var _ = Suite(&signatureSuite{})

func (s *signatureSuite) SetUpSuite(c *C) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	c.Assert(err, IsNil)
	s.key = key

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "boot signing test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	cert, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	c.Assert(err, IsNil)
	s.cert = cert
}

func (s *signatureSuite) signedImage(c *C, target string) *bootimg.Image {
	data := makeImage(c, []byte{1, 2, 3}, nil, nil, "")
	signed, err := bootimg.SignImage(data, s.key, s.cert, target)
	c.Assert(err, IsNil)
	img, err := bootimg.FromBuffer(signed)
	c.Assert(err, IsNil)
	return img
}

func (s *signatureSuite) TestSignAndVerify(c *C) {
	img := s.signedImage(c, "/boot")
	v := &bootimg.RSAVerifier{Keys: []*rsa.PublicKey{&s.key.PublicKey}}
	label, err := v.VerifyBootImage(img, nil)
	c.Assert(err, IsNil)
	c.Check(label, Equals, "/boot")
}

func (s *signatureSuite) TestVerifyWithKeystoreBlob(c *C) {
	img := s.signedImage(c, "/recovery")
	keystore, err := bootimg.EncodeKeystore([]*rsa.PublicKey{&s.key.PublicKey})
	c.Assert(err, IsNil)

	v := &bootimg.RSAVerifier{}
	label, err := v.VerifyBootImage(img, keystore)
	c.Assert(err, IsNil)
	c.Check(label, Equals, "/recovery")
}

func (s *signatureSuite) TestVerifyTamperedImage(c *C) {
	img := s.signedImage(c, "/boot")
	img.Kernel()[0] ^= 0xff
	v := &bootimg.RSAVerifier{Keys: []*rsa.PublicKey{&s.key.PublicKey}}
	_, err := v.VerifyBootImage(img, nil)
	c.Assert(err, ErrorMatches, "boot signature mismatch: .*")
}

func (s *signatureSuite) TestVerifyUntrustedKey(c *C) {
	img := s.signedImage(c, "/boot")
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	c.Assert(err, IsNil)
	v := &bootimg.RSAVerifier{Keys: []*rsa.PublicKey{&other.PublicKey}}
	_, err = v.VerifyBootImage(img, nil)
	c.Assert(err, ErrorMatches, "boot signature certificate key not in keystore")
}

func (s *signatureSuite) TestVerifyUnsignedImage(c *C) {
	data := makeImage(c, []byte{1}, nil, nil, "")
	img, err := bootimg.FromBuffer(data)
	c.Assert(err, IsNil)
	// trim to the exact image size, no signature bytes at all
	img.Data = img.Data[:img.Header.Size()]
	v := &bootimg.RSAVerifier{Keys: []*rsa.PublicKey{&s.key.PublicKey}}
	_, err = v.VerifyBootImage(img, nil)
	c.Assert(err, ErrorMatches, "cannot verify boot image: no signature present")
}

func (s *signatureSuite) TestVerifyEmptyKeystore(c *C) {
	img := s.signedImage(c, "/boot")
	v := &bootimg.RSAVerifier{}
	_, err := v.VerifyBootImage(img, nil)
	c.Assert(err, ErrorMatches, "cannot verify boot image: empty keystore")
}

func (s *signatureSuite) TestVerifyGarbageSignature(c *C) {
	data := makeImage(c, []byte{1}, nil, nil, "")
	img, err := bootimg.FromBuffer(append(data, "not a signature"...))
	c.Assert(err, IsNil)
	v := &bootimg.RSAVerifier{Keys: []*rsa.PublicKey{&s.key.PublicKey}}
	_, err = v.VerifyBootImage(img, nil)
	c.Assert(err, ErrorMatches, "cannot parse boot signature: .*")
}
