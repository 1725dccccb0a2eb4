// Package circuit provides circuit extension functionality for the Tor protocol.
package circuit

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1" // #nosec G505 - SHA-1 required by Tor protocol (tor-spec.txt §6.1)
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/go-tor/pkg/cell"
	"github.com/opd-ai/go-tor/pkg/crypto"
	"github.com/opd-ai/go-tor/pkg/errors"
	"github.com/opd-ai/go-tor/pkg/logger"
	"github.com/opd-ai/go-tor/pkg/security"
)

// HandshakeType defines the type of circuit handshake to use
type HandshakeType uint16

const (
	// HandshakeTypeNTor is the ntor handshake (the only one this client speaks)
	HandshakeTypeNTor HandshakeType = 0x0002
)

// RelayDescriptor is the subset of a directory relay descriptor the ntor
// handshake needs. pkg/directory.Relay satisfies this.
type RelayDescriptor interface {
	GetFingerprint() string
	GetAddress() string
	GetIdentityKey() []byte
	GetNtorOnionKey() []byte
}

// Extension drives the CREATE2/EXTEND2 handshakes that add one hop to a
// circuit at a time (tor-spec.txt §5).
type Extension struct {
	circuit *Circuit
	logger  *logger.Logger
}

// NewExtension creates a new circuit extension handler
func NewExtension(circuit *Circuit, log *logger.Logger) *Extension {
	if log == nil {
		log = logger.NewDefault()
	}

	return &Extension{
		circuit: circuit,
		logger:  log.Component("extension"),
	}
}

// CreateFirstHop establishes the circuit's first hop with the given relay
// using CREATE2/CREATED2 over the circuit's already-bound connection.
func (e *Extension) CreateFirstHop(ctx context.Context, relay RelayDescriptor) error {
	e.logger.Info("Creating first hop", "circuit_id", e.circuit.ID, "relay", relay.GetFingerprint())

	handshakeData, ephemeralPrivate, err := crypto.NtorClientHandshake(relay.GetIdentityKey(), relay.GetNtorOnionKey())
	if err != nil {
		return fmt.Errorf("failed to generate handshake data: %w", err)
	}

	payload, err := encodeHandshakePayload(HandshakeTypeNTor, handshakeData)
	if err != nil {
		return err
	}

	create2Cell := &cell.Cell{
		CircID:  e.circuit.ID,
		Command: cell.CmdCreate2,
		Payload: payload,
	}

	if err := e.circuit.sendControlCell(create2Cell); err != nil {
		return fmt.Errorf("failed to send CREATE2: %w", err)
	}

	resp, err := e.circuit.receiveControlCell(ctx)
	if err != nil {
		return errors.HandshakeFail("no CREATED2 response", err)
	}

	switch resp.Command {
	case cell.CmdDestroy:
		return errors.HandshakeFail("relay sent DESTROY during CREATE2", nil)
	case cell.CmdCreated2:
		// fall through
	default:
		return errors.HandshakeFail(fmt.Sprintf("expected CREATED2, got %s", resp.Command), nil)
	}

	handshakeResponse, err := decodeHandshakePayload(resp.Payload)
	if err != nil {
		return errors.ProtocolViolation(err.Error())
	}

	keyMaterial, err := crypto.NtorProcessResponse(handshakeResponse, ephemeralPrivate, relay.GetNtorOnionKey(), relay.GetIdentityKey())
	if err != nil {
		return errors.HandshakeFail("ntor response verification failed", err)
	}

	hop, err := buildHop(relay.GetFingerprint(), relay.GetAddress(), true, false, keyMaterial)
	if err != nil {
		return fmt.Errorf("deriving hop crypto state: %w", err)
	}

	if err := e.circuit.AddHop(hop); err != nil {
		return err
	}

	e.logger.Info("First hop created", "circuit_id", e.circuit.ID)
	return nil
}

// ExtendCircuit extends the circuit by one hop using EXTEND2/EXTENDED2,
// tunnelled through the already-established hops.
func (e *Extension) ExtendCircuit(ctx context.Context, relay RelayDescriptor, isExit bool) error {
	e.logger.Info("Extending circuit", "circuit_id", e.circuit.ID, "relay", relay.GetFingerprint())

	handshakeData, ephemeralPrivate, err := crypto.NtorClientHandshake(relay.GetIdentityKey(), relay.GetNtorOnionKey())
	if err != nil {
		return fmt.Errorf("failed to generate handshake data: %w", err)
	}

	extend2Data, err := buildExtend2Data(relay.GetAddress(), HandshakeTypeNTor, handshakeData)
	if err != nil {
		return err
	}

	relayCell := cell.NewRelayCell(0, cell.RelayExtend2, extend2Data)
	if err := e.circuit.SendRelayCell(relayCell); err != nil {
		return fmt.Errorf("failed to send EXTEND2: %w", err)
	}

	resp, err := e.circuit.waitForRelayCommand(ctx, cell.RelayExtended2)
	if err != nil {
		return errors.HandshakeFail("no EXTENDED2 response", err)
	}

	handshakeResponse, err := decodeHandshakePayload(resp.Data)
	if err != nil {
		return errors.ProtocolViolation(err.Error())
	}

	keyMaterial, err := crypto.NtorProcessResponse(handshakeResponse, ephemeralPrivate, relay.GetNtorOnionKey(), relay.GetIdentityKey())
	if err != nil {
		return errors.HandshakeFail("ntor response verification failed", err)
	}

	hop, err := buildHop(relay.GetFingerprint(), relay.GetAddress(), false, isExit, keyMaterial)
	if err != nil {
		return fmt.Errorf("deriving hop crypto state: %w", err)
	}

	if err := e.circuit.AddHop(hop); err != nil {
		return err
	}

	e.logger.Info("Circuit extended", "circuit_id", e.circuit.ID, "length", e.circuit.Length())
	return nil
}

// buildHop derives per-hop AES-CTR ciphers and SHA-1 digests from the 72
// bytes of ntor key material (Df||Db||Kf||Kb per tor-spec.txt §5.2.2) and
// returns a Hop ready to append to the circuit.
func buildHop(fingerprint, address string, isGuard, isExit bool, keyMaterial []byte) (*Hop, error) {
	if len(keyMaterial) != 72 {
		return nil, fmt.Errorf("invalid key material length: %d, want 72", len(keyMaterial))
	}
	df := keyMaterial[0:20]
	db := keyMaterial[20:40]
	kf := keyMaterial[40:56]
	kb := keyMaterial[56:72]

	zeroIV := make([]byte, aes.BlockSize)

	forwardBlock, err := aes.NewCipher(kf)
	if err != nil {
		return nil, fmt.Errorf("forward cipher: %w", err)
	}
	backwardBlock, err := aes.NewCipher(kb)
	if err != nil {
		return nil, fmt.Errorf("backward cipher: %w", err)
	}

	forwardDigest := sha1.New() // #nosec G401 - SHA-1 required by Tor protocol
	forwardDigest.Write(df)
	backwardDigest := sha1.New() // #nosec G401 - SHA-1 required by Tor protocol
	backwardDigest.Write(db)

	hop := NewHop(fingerprint, address, isGuard, isExit)
	hop.SetCryptoState(
		cipher.NewCTR(forwardBlock, zeroIV),
		cipher.NewCTR(backwardBlock, zeroIV),
		forwardDigest,
		backwardDigest,
	)
	return hop, nil
}

// encodeHandshakePayload builds a CREATE2 payload: HTYPE || HLEN || HDATA.
func encodeHandshakePayload(handshakeType HandshakeType, handshakeData []byte) ([]byte, error) {
	hlen, err := security.SafeLenToUint16(handshakeData)
	if err != nil {
		return nil, fmt.Errorf("handshake data too large: %w", err)
	}
	payload := make([]byte, 4+len(handshakeData))
	binary.BigEndian.PutUint16(payload[0:2], uint16(handshakeType))
	binary.BigEndian.PutUint16(payload[2:4], hlen)
	copy(payload[4:], handshakeData)
	return payload, nil
}

// decodeHandshakePayload extracts HDATA from a CREATED2/EXTENDED2 payload
// that begins with a 2-byte HLEN field.
func decodeHandshakePayload(payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("handshake payload too short")
	}
	hlen := binary.BigEndian.Uint16(payload[0:2])
	if len(payload) < int(2+hlen) {
		return nil, fmt.Errorf("handshake payload incomplete")
	}
	return payload[2 : 2+hlen], nil
}

// buildExtend2Data builds an EXTEND2 relay cell body targeting address
// (IPv4:port) with one link specifier, per tor-spec.txt §5.1.2.
func buildExtend2Data(address string, handshakeType HandshakeType, handshakeData []byte) ([]byte, error) {
	ip, port, err := parseIPv4Address(address)
	if err != nil {
		return nil, fmt.Errorf("invalid relay address %q: %w", address, err)
	}

	data := make([]byte, 0, 16+len(handshakeData))
	data = append(data, 1) // NSPEC: one link specifier
	data = append(data, 0) // LSTYPE 0: TLS-over-TCP, IPv4
	data = append(data, 6) // LSLEN: 4 (IPv4) + 2 (port)
	data = append(data, ip...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	data = append(data, portBytes...)

	htypeBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(htypeBytes, uint16(handshakeType))
	data = append(data, htypeBytes...)

	hlen, err := security.SafeLenToUint16(handshakeData)
	if err != nil {
		return nil, fmt.Errorf("handshake data too large: %w", err)
	}
	hlenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(hlenBytes, hlen)
	data = append(data, hlenBytes...)
	data = append(data, handshakeData...)

	return data, nil
}

// parseIPv4Address splits "a.b.c.d:port" into its 4 address bytes and port.
func parseIPv4Address(address string) (ip []byte, port uint16, err error) {
	var a, b, c, d int
	var p int
	n, err := fmt.Sscanf(address, "%d.%d.%d.%d:%d", &a, &b, &c, &d, &p)
	if err != nil || n != 5 {
		return nil, 0, fmt.Errorf("not an IPv4 host:port")
	}
	for _, octet := range []int{a, b, c, d} {
		if octet < 0 || octet > 255 {
			return nil, 0, fmt.Errorf("octet out of range")
		}
	}
	if p < 0 || p > 65535 {
		return nil, 0, fmt.Errorf("port out of range")
	}
	return []byte{byte(a), byte(b), byte(c), byte(d)}, uint16(p), nil
}
