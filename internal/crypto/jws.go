package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
)

type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func SignDetachedJWS(payload []byte, privateKeyPEM []byte) (JWS, error) {
	hdr := map[string]any{
		"alg": "RS256",
		"typ": "JWT",
	}
	hb, _ := json.Marshal(hdr)
	protected := base64.RawURLEncoding.EncodeToString(hb)
	pl := base64.RawURLEncoding.EncodeToString(payload)

	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil { return JWS{}, err }

	signingInput := protected + "." + pl
	h := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil { return JWS{}, err }

	return JWS{
		Protected: protected,
		Payload:   pl,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// ParseDetachedJWS decodes the JSON serialization of a JWS.
func ParseDetachedJWS(data []byte) (JWS, error) {
	var jws JWS
	if err := json.Unmarshal(data, &jws); err != nil {
		return jws, err
	}
	if jws.Protected == "" || jws.Signature == "" {
		return jws, errors.New("incomplete jws")
	}
	return jws, nil
}

// VerifyDetachedJWS checks an RS256 signature against the certificate in
// certPEM. The payload is supplied out of band; if the JWS embeds one it
// must match.
func VerifyDetachedJWS(payload []byte, jws JWS, certPEM []byte) error {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return errors.New("no certificate pem block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}
	return verifyWithCert(payload, jws, cert)
}

// VerifyDetachedJWSWithX5C validates a JWS whose protected header carries
// an x5c certificate chain. The leaf must chain to a certificate in pool;
// on success the leaf is returned so callers can report the signer.
func VerifyDetachedJWSWithX5C(payload []byte, jws JWS, pool *x509.CertPool) (*x509.Certificate, error) {
	hb, err := base64.RawURLEncoding.DecodeString(jws.Protected)
	if err != nil {
		return nil, errors.New("invalid protected header encoding")
	}
	var hdr struct {
		Alg string   `json:"alg"`
		X5C []string `json:"x5c"`
	}
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return nil, errors.New("invalid protected header")
	}
	if hdr.Alg != "RS256" {
		return nil, errors.New("unsupported jws algorithm " + hdr.Alg)
	}
	if len(hdr.X5C) == 0 {
		return nil, errors.New("protected header has no x5c chain")
	}
	var chain []*x509.Certificate
	for _, enc := range hdr.X5C {
		der, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, errors.New("invalid x5c certificate encoding")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cert)
	}
	leaf := chain[0]
	inter := x509.NewCertPool()
	for _, cert := range chain[1:] {
		inter.AddCert(cert)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, Intermediates: inter}); err != nil {
		return nil, err
	}
	if err := verifyWithCert(payload, jws, leaf); err != nil {
		return nil, err
	}
	return leaf, nil
}

func verifyWithCert(payload []byte, jws JWS, cert *x509.Certificate) error {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("certificate key is not RSA")
	}
	pl := base64.RawURLEncoding.EncodeToString(payload)
	if jws.Payload != "" && jws.Payload != pl {
		return errors.New("payload does not match signature")
	}
	sig, err := base64.RawURLEncoding.DecodeString(jws.Signature)
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	signingInput := jws.Protected + "." + pl
	h := sha256.Sum256([]byte(signingInput))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig)
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return key, nil
}
