// Package identity provides the bridge's self-signed TLS identity.
//
// The identity is an RSA key and a self-signed certificate kept in a
// password protected PKCS#12 file. It is generated on first use and loaded
// on every later start, so clients that pinned the certificate keep working
// across restarts. The private key is only ever written to disk inside the
// encrypted PKCS#12 blob.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/logging"
	"software.sslmate.com/src/go-pkcs12"
)

// Defaults for StoreConfig.
const (
	DefaultFileName   = "usbnet-identity.p12"
	DefaultPassphrase = "usbnet-bridge-keystore"
	DefaultCommonName = "usbnet-bridge"
	DefaultAlias      = "usbnet"
	DefaultKeyBits    = 2048
	DefaultValidity   = 10 * 365 * 24 * time.Hour
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Dir is the directory holding the keystore file. Required.
	Dir string

	// FileName is the keystore file name (default: DefaultFileName).
	FileName string

	// Passphrase protects the keystore (default: DefaultPassphrase).
	Passphrase string

	// CommonName is the certificate subject and issuer CN.
	CommonName string

	// Alias names the key entry. PKCS#12 files written by the store hold a
	// single key and certificate, so the alias is recorded as the
	// certificate's organizational unit.
	Alias string

	// KeyBits is the RSA modulus size (default: 2048).
	KeyBits int

	// Validity is the certificate lifetime (default: 10 years).
	Validity time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *StoreConfig) applyDefaults() {
	if c.FileName == "" {
		c.FileName = DefaultFileName
	}
	if c.Passphrase == "" {
		c.Passphrase = DefaultPassphrase
	}
	if c.CommonName == "" {
		c.CommonName = DefaultCommonName
	}
	if c.Alias == "" {
		c.Alias = DefaultAlias
	}
	if c.KeyBits == 0 {
		c.KeyBits = DefaultKeyBits
	}
	if c.Validity == 0 {
		c.Validity = DefaultValidity
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Identity is a loaded or freshly generated key and certificate.
type Identity struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey

	// Generated is true when this identity was created by the call that
	// returned it rather than loaded from disk.
	Generated bool
}

// TLSCertificate returns the identity as a tls.Certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Fingerprint returns the SHA-256 digest of the certificate in colon
// separated uppercase hex.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.Certificate.Raw)
}

// Fingerprint formats the SHA-256 digest of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Store loads or creates the identity kept in one directory.
type Store struct {
	config StoreConfig
	log    logging.LeveledLogger

	mu     sync.Mutex
	cached *Identity
}

// NewStore creates a Store. Nothing touches the disk until GetOrCreate.
func NewStore(config StoreConfig) (*Store, error) {
	if config.Dir == "" {
		return nil, ErrNoDirectory
	}
	config.applyDefaults()

	s := &Store{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("identity")
	}
	return s, nil
}

// Path returns the keystore file path.
func (s *Store) Path() string {
	return filepath.Join(s.config.Dir, s.config.FileName)
}

// GetOrCreate returns the persisted identity, generating and persisting a
// new one if no keystore exists yet. Calls are serialized; any failure is
// returned wrapped in ErrLoad, ErrGenerate or ErrPersist.
func (s *Store) GetOrCreate() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return &Identity{Certificate: s.cached.Certificate, PrivateKey: s.cached.PrivateKey}, nil
	}

	id, err := s.load()
	switch {
	case err == nil:
		if s.log != nil {
			s.log.Infof("loaded TLS identity from %s (serial %s)", s.Path(), id.Certificate.SerialNumber)
		}
	case errors.Is(err, fs.ErrNotExist):
		id, err = s.generate()
		if err != nil {
			return nil, err
		}
		if err := s.persist(id); err != nil {
			return nil, err
		}
		if s.log != nil {
			s.log.Infof("generated TLS identity %s at %s", id.Fingerprint(), s.Path())
		}
	default:
		return nil, err
	}

	s.cached = id
	return id, nil
}

func (s *Store) load() (*Identity, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	key, cert, err := pkcs12.Decode(data, s.config.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected key type %T", ErrLoad, key)
	}

	return &Identity{Certificate: cert, PrivateKey: rsaKey}, nil
}

func (s *Store) generate() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, s.config.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", ErrGenerate, err)
	}

	now := s.config.Now()
	subject := pkix.Name{
		CommonName:         s.config.CommonName,
		OrganizationalUnit: []string{s.config.Alias},
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixMilli()),
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             now,
		NotAfter:              now.Add(s.config.Validity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{s.config.CommonName, "localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrGenerate, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrGenerate, err)
	}

	return &Identity{Certificate: cert, PrivateKey: key, Generated: true}, nil
}

// persist writes the keystore to a temporary file and renames it into place.
func (s *Store) persist(id *Identity) error {
	pfx, err := pkcs12.Modern.Encode(id.PrivateKey, id.Certificate, nil, s.config.Passphrase)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}

	if err := os.MkdirAll(s.config.Dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	tmp, err := os.CreateTemp(s.config.Dir, s.config.FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if _, err := tmp.Write(pfx); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// TLSConfig returns a server TLS configuration using the identity.
func (s *Store) TLSConfig() (*tls.Config, error) {
	id, err := s.GetOrCreate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{id.TLSCertificate()},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Listen opens a TLS listener on addr. No listener is opened when the
// identity cannot be loaded or generated.
func (s *Store) Listen(addr string) (net.Listener, error) {
	config, err := s.TLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, config)
}
