package forwarder

import (
	"context"
	"fmt"
	"github.com/fxamacker/cbor/v2"
	"github.com/jd3nn1s/groundstation"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"net"
)

// Datagram layout: one type byte, one kind byte, CBOR body.
const (
	TypeTelemetry = 1
	TypeState     = 2

	headerSize  = 2
	maxBodySize = 512
)

var ErrShortDatagram = errors.New("datagram too short")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	if encMode, err = opts.EncMode(); err != nil {
		panic("forwarder: CBOR encoder initialization failed: " + err.Error())
	}
	dopts := cbor.DecOptions{TextUnmarshaler: cbor.TextUnmarshalerTextString}
	if decMode, err = dopts.DecMode(); err != nil {
		panic("forwarder: CBOR decoder initialization failed: " + err.Error())
	}
}

type UDPConfig struct {
	Server string
	Port   int
}

type stateBody struct {
	State string `cbor:"state"`
}

// UDPForwarder sends every update as one datagram.
type UDPForwarder struct {
	Config UDPConfig
	conn   net.Conn
}

func NewUDPForwarder(config UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{Config: config}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Name() string {
	return "udp " + udp.conn.RemoteAddr().String()
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Deliver(ctx context.Context, u groundstation.Update) error {
	buf, err := Marshal(u)
	if err != nil {
		return err
	}
	if _, err := udp.conn.Write(buf); err != nil {
		return errors.Wrap(err, "unable to send datagram")
	}
	return nil
}

// Marshal encodes an update into a datagram.
func Marshal(u groundstation.Update) ([]byte, error) {
	hdr := []byte{TypeTelemetry, 0}
	var body any = u.Record
	if u.IsState() {
		hdr[0] = TypeState
		body = stateBody{State: u.State.String()}
	} else {
		hdr[1] = byte(u.Record.Kind())
	}

	b, err := encMode.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode datagram body")
	}
	return append(hdr, b...), nil
}

// Unmarshal decodes a datagram produced by Marshal.
func Unmarshal(b []byte) (groundstation.Update, error) {
	if len(b) < headerSize {
		return groundstation.Update{}, ErrShortDatagram
	}
	body := b[headerSize:]
	switch b[0] {
	case TypeState:
		var s stateBody
		if err := decMode.Unmarshal(body, &s); err != nil {
			return groundstation.Update{}, errors.Wrap(err, "unable to decode state")
		}
		for st := groundstation.Disconnected; st <= groundstation.Logging; st++ {
			if st.String() == s.State {
				return groundstation.Update{State: st}, nil
			}
		}
		return groundstation.Update{}, errors.Errorf("unknown state %q", s.State)
	case TypeTelemetry:
		rec, err := unmarshalRecord(telemetry.Kind(b[1]), body)
		if err != nil {
			return groundstation.Update{}, err
		}
		return groundstation.Update{Record: rec}, nil
	}
	return groundstation.Update{}, errors.Errorf("unknown datagram type %d", b[0])
}

func unmarshalRecord(kind telemetry.Kind, body []byte) (telemetry.Record, error) {
	switch kind {
	case telemetry.KindAttitude:
		return decodeAs[telemetry.Attitude](kind, body)
	case telemetry.KindGPSBasic:
		return decodeAs[telemetry.GPSBasic](kind, body)
	case telemetry.KindBattery:
		return decodeAs[telemetry.Battery](kind, body)
	case telemetry.KindMotors:
		return decodeAs[telemetry.Motors](kind, body)
	case telemetry.KindFlightMode:
		return decodeAs[telemetry.FlightMode](kind, body)
	case telemetry.KindGPSEnhanced:
		return decodeAs[telemetry.GPSEnhanced](kind, body)
	}
	return nil, errors.Errorf("unknown record kind %s", kind)
}

func decodeAs[T telemetry.Record](kind telemetry.Kind, body []byte) (telemetry.Record, error) {
	var r T
	if err := decMode.Unmarshal(body, &r); err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", kind)
	}
	return r, nil
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := (headerSize + maxBodySize) * 32

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return errors.Wrap(err, "unable to dial udp server")
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	log.WithField("server", conn.RemoteAddr()).Info("udp forwarder connected")
	return nil
}
