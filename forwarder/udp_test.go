package forwarder

import (
	"context"
	"github.com/jd3nn1s/groundstation"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"testing"
	"time"
)

var ts = time.Date(2024, 5, 1, 12, 30, 45, 123456789, time.UTC)

func TestUDPForwarder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	udpAddr := pc.LocalAddr().(*net.UDPAddr)

	dataChan := make(chan []byte, 1)
	go func() {
		buffer := make([]byte, 1024)
		assert.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
		n, _, err := pc.ReadFrom(buffer)
		assert.NoError(t, err)
		dataChan <- buffer[:n]
	}()

	udp, err := NewUDPForwarder(UDPConfig{Server: "127.0.0.1", Port: udpAddr.Port})
	require.NoError(t, err)
	defer udp.Close()

	bat := telemetry.Battery{
		Header:            telemetry.Header{Timestamp: ts},
		Cells:             4,
		CellVoltage:       3.85,
		PackVoltage:       15.4,
		Current:           12.5,
		ReportedConsumed:  1200,
		ReportedRemaining: 3800,
		Consumed:          1187.5,
		FlightTime:        18.2,
		LowBattery:        true,
	}
	require.NoError(t, udp.Deliver(context.Background(), groundstation.Update{Record: bat}))

	data := <-dataChan
	require.True(t, len(data) > headerSize)
	assert.Equal(t, byte(TypeTelemetry), data[0])
	assert.Equal(t, byte(telemetry.KindBattery), data[1])

	u, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, bat, u.Record)
}

func TestMarshalRecords(t *testing.T) {
	h := telemetry.Header{Timestamp: ts}
	recs := []telemetry.Record{
		telemetry.Attitude{Header: h, Roll: -12.5, Pitch: 3.25, Yaw: 270, Altitude: 45.5, YawSetpoint: 268},
		telemetry.GPSBasic{Header: h, Latitude: 37.5665, Longitude: 126.978, Voltage: 15.9, Failsafe: telemetry.FailsafeNoRC},
		telemetry.Motors{Header: h, ESC: [telemetry.MotorCount]telemetry.ESC{{Temperature: 41, RPM: 9000}, {}, {}, {RPM: 9100}}},
		telemetry.FlightMode{Header: h, Mode: telemetry.ModeRTL, Armed: true, ArmingState: telemetry.ArmingArmed},
		telemetry.GPSEnhanced{Header: h, FixType: 3, HomeSet: true, DistanceToHome: 427.1, HomeVectorValid: true},
	}
	for _, rec := range recs {
		t.Run(rec.Kind().String(), func(t *testing.T) {
			b, err := Marshal(groundstation.Update{Record: rec})
			require.NoError(t, err)
			u, err := Unmarshal(b)
			require.NoError(t, err)
			assert.Equal(t, rec, u.Record)
		})
	}
}

func TestMarshalEnumNames(t *testing.T) {
	fm := telemetry.FlightMode{Header: telemetry.Header{Timestamp: ts}, Mode: telemetry.ModeAltHold, ArmingState: telemetry.ArmingArming}
	b, err := Marshal(groundstation.Update{Record: fm})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, decMode.Unmarshal(b[headerSize:], &body))
	assert.Equal(t, "ALT_HOLD", body["mode"])
	assert.Equal(t, "ARMING", body["arming"])

	u, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, fm, u.Record)
}

func TestMarshalState(t *testing.T) {
	b, err := Marshal(groundstation.Update{State: groundstation.Logging})
	require.NoError(t, err)
	assert.Equal(t, byte(TypeState), b[0])

	u, err := Unmarshal(b)
	require.NoError(t, err)
	assert.True(t, u.IsState())
	assert.Equal(t, groundstation.Logging, u.State)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{TypeTelemetry})
	assert.Equal(t, ErrShortDatagram, err)

	_, err = Unmarshal([]byte{9, 0, 0xa0})
	assert.Error(t, err)

	_, err = Unmarshal([]byte{TypeTelemetry, 0x7f, 0xa0})
	assert.Error(t, err)
}
