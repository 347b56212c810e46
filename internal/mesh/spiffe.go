package mesh

import (
	"fmt"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// verifyTrustDomain checks a joining peer's claimed SPIFFE ID against the
// mesh's configured trust domain, rejecting peers from any other trust
// domain before they're admitted to the peer table.
//
// Grounded on the teacher's internal/federation/handshake.go
// verifySPIFFECertificates, which compares each side's SVID trust domain
// via spiffeid.FromString(...).TrustDomain() before completing a
// handshake; PeerTransport exchanges a claimed identity over plain
// HTTP/JSON rather than negotiating mTLS SVIDs inline, so this checks the
// claimed ID's trust domain rather than verifying a live X.509 SVID chain
// — the workload-API/X.509-SVID half of the teacher's flow belongs to
// whatever mTLS terminates the HTTP transport, not to mesh membership
// admission.
func verifyTrustDomain(trustDomain, claimedSpiffeID string) error {
	if trustDomain == "" || claimedSpiffeID == "" {
		return nil
	}
	id, err := spiffeid.FromString(claimedSpiffeID)
	if err != nil {
		return fmt.Errorf("mesh: invalid spiffe id %q: %w", claimedSpiffeID, err)
	}
	if id.TrustDomain().String() != trustDomain {
		return fmt.Errorf("mesh: peer trust domain %q does not match mesh trust domain %q", id.TrustDomain(), trustDomain)
	}
	return nil
}
