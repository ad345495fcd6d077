package claims

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer is an interface for signing and verifying claim sets
type Signer interface {
	// Sign creates a signed token from claims
	Sign(claims jwt.Claims) (string, error)

	// VerificationKey returns the key used to verify a parsed token
	VerificationKey(token *jwt.Token) (any, error)

	// Method returns the signing method used
	Method() jwt.SigningMethod
}

// HMACSigner implements Signer using symmetric HMAC-SHA256
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates a new HMAC signer with the given secret
func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{
		secret: []byte(secret),
	}
}

func (h *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signedToken, nil
}

func (h *HMACSigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// KeyPairSigner implements Signer using RSA, with the key id carried in the
// token header so verifiers can select the right public key.
type KeyPairSigner struct {
	keyID      string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewKeyPairSigner creates a signer from an RSA private key
func NewKeyPairSigner(keyID string, privateKey *rsa.PrivateKey) *KeyPairSigner {
	return &KeyPairSigner{
		keyID:      keyID,
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
	}
}

// NewKeyPairSignerFromPEM loads an RSA key pair from base64-encoded PEM, the
// format deployment secrets are provisioned in.
func NewKeyPairSignerFromPEM(keyID, privateKeyBase64 string) (*KeyPairSigner, error) {
	pemData, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode private key base64")
	}

	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		// Provisioning tools emit PKCS#8 as well
		parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if pkcs8Err != nil {
			return nil, errors.Wrap(err, "failed to parse RSA private key")
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		privateKey = rsaKey
	}

	return NewKeyPairSigner(keyID, privateKey), nil
}

func (a *KeyPairSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = a.keyID

	signedToken, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with asymmetric key")
	}
	return signedToken, nil
}

func (a *KeyPairSigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.publicKey, nil
}

func (a *KeyPairSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}
