package switcher

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"

	"github.com/sourcectl/sourcectl/internal/catalog"
)

const (
	probeTimeout = 30 * time.Second
	// clearsignedPrefix is the minimal sanity mark of an InRelease file.
	clearsignedPrefix = "-----BEGIN PGP SIGNED MESSAGE-----"
)

// Probe is the optional post-success reachability check: one timed
// download of the new mirror's InRelease file.  Its outcome never
// changes the run's success or failure.
type Probe struct {
	client     *http.Client
	pgpKeyPath string
	quiet      bool
}

// NewProbe creates a Probe.  A non-empty pgpKeyPath additionally
// verifies the InRelease signature against that keyring.
func NewProbe(pgpKeyPath string, quiet bool) *Probe {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 2

	return &Probe{
		client: &http.Client{
			Transport: tr,
			Timeout:   probeTimeout,
		},
		pgpKeyPath: pgpKeyPath,
		quiet:      quiet,
	}
}

// Run downloads the InRelease file of the base entry and reports the
// observed throughput.
func (p *Probe) Run(ctx context.Context, set catalog.SourceSet) error {
	if len(set) == 0 {
		return errors.New("empty source set")
	}

	base := set[0]
	target := strings.TrimSuffix(base.URL, "/") + "/dists/" + base.Suite + "/InRelease"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "sourcectl")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "probe download")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("status %d for %s", resp.StatusCode, target)
	}

	var reader io.Reader = resp.Body
	var bar *pb.ProgressBar
	// The bar renders to stderr; skip it when stderr is not a terminal.
	if !p.quiet && resp.ContentLength > 0 && isatty.IsTerminal(os.Stderr.Fd()) {
		bar = pb.Full.Start64(resp.ContentLength)
		reader = bar.NewProxyReader(resp.Body)
	}

	body, err := io.ReadAll(reader)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return errors.Wrap(err, "probe read")
	}

	elapsed := time.Since(start)
	slog.Info("mirror probe complete",
		"url", target,
		"bytes", len(body),
		"elapsed", elapsed.Round(time.Millisecond).String())

	return p.checkSignature(body)
}

// checkSignature validates that the probed InRelease looks like a
// signed release file, and verifies the signature when a keyring is
// configured.
func (p *Probe) checkSignature(body []byte) error {
	if !strings.HasPrefix(string(body), clearsignedPrefix) {
		return errors.New("InRelease is not a clear-signed message")
	}

	if p.pgpKeyPath == "" {
		return nil
	}

	keyringBytes, err := os.ReadFile(p.pgpKeyPath) // #nosec G304 - path comes from validated configuration
	if err != nil {
		return errors.Wrap(err, "read PGP keyring")
	}

	publicKey, err := crypto.NewKeyFromArmored(string(keyringBytes))
	if err != nil {
		return errors.Wrap(err, "parse PGP keyring")
	}

	verifier, err := crypto.PGP().Verify().VerificationKey(publicKey).New()
	if err != nil {
		return errors.Wrap(err, "create verifier")
	}

	verifyResult, err := verifier.VerifyCleartext(body)
	if err != nil {
		return errors.Wrap(err, "verify InRelease signature")
	}
	if sigErr := verifyResult.SignatureError(); sigErr != nil {
		return errors.Wrap(sigErr, "InRelease signature invalid")
	}

	slog.Info("InRelease signature is valid", "key_id", publicKey.GetHexKeyID())
	return nil
}
