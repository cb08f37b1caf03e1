package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ebikecode-go/storage/reclog"
)

var eventNames = map[uint8]string{
	reclog.EvBoot:          "boot",
	reclog.EvFault:         "fault",
	reclog.EvConfigCommit:  "config-commit",
	reclog.EvConfigReject:  "config-reject",
	reclog.EvPinAttempt:    "pin-attempt",
	reclog.EvSlotPromote:   "slot-promote",
	reclog.EvSlotRejected:  "slot-rejected",
	reclog.EvPendingSet:    "pending-set",
	reclog.EvCrashCaptured: "crash-captured",
}

func eventName(typ uint8) string {
	if s, ok := eventNames[typ]; ok {
		return s
	}
	return fmt.Sprintf("type-%d", typ)
}

// tailRange converts a --last count into a copy offset and record count.
func tailRange(count uint32, last int) (uint32, uint32) {
	if last <= 0 || uint32(last) >= count {
		return 0, count
	}
	return count - uint32(last), uint32(last)
}

func eventsCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Dump the event log",
		Run: func(cmd *cobra.Command, args []string) {
			_, st := openImage()
			offset, n := tailRange(st.EventMeta().Count, last)
			buf := make([]byte, n*reclog.EventRecordSize)
			got, err := st.EventCopy(offset, n, buf)
			if err != nil {
				log.Fatalf("read events: %v", err)
			}
			var r reclog.EventRecord
			for i := uint32(0); i < got; i++ {
				r.DecodeFrom(buf[i*reclog.EventRecordSize:])
				fmt.Printf("%6d  %10dms  %-14s flags=%02x  speed=%d batt=%d.%dV %d.%dA temp=%d.%dC\n",
					offset+i, r.Ms, eventName(r.Type), r.Flags,
					r.Speed_dmph,
					r.Batt_dV/10, abs16(r.Batt_dV)%10,
					r.Batt_dA/10, abs16(r.Batt_dA)%10,
					r.Temp_dC/10, abs16(r.Temp_dC)%10)
			}
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 0, "show only the last N records")
	return cmd
}

func streamCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Dump the telemetry stream log",
		Run: func(cmd *cobra.Command, args []string) {
			_, st := openImage()
			offset, n := tailRange(st.StreamMeta().Count, last)
			buf := make([]byte, n*reclog.StreamRecordSize)
			got, err := st.StreamCopy(offset, n, buf)
			if err != nil {
				log.Fatalf("read stream: %v", err)
			}
			var r reclog.StreamRecord
			for i := uint32(0); i < got; i++ {
				r.DecodeFrom(buf[i*reclog.StreamRecordSize:])
				fmt.Printf("%6d  dt=%5dms  speed=%3d cad=%3d power=%4dW batt=%d.%dV %d.%dA mode=%d profile=%d\n",
					offset+i, r.Dt_ms, r.Speed_dmph, r.Cadence_rpm, r.Power_W,
					r.Batt_dV/10, abs16(r.Batt_dV)%10,
					r.Batt_dA/10, abs16(r.Batt_dA)%10,
					r.AssistMode, r.ProfileID)
			}
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 0, "show only the last N records")
	return cmd
}

// abs16 widens before negating so math.MinInt16 does not wrap.
func abs16(v int16) int32 {
	if v < 0 {
		return -int32(v)
	}
	return int32(v)
}
