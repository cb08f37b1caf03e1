package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ebikecode-go/errcode"
	"ebikecode-go/storage"
	"ebikecode-go/storage/abmeta"
	"ebikecode-go/storage/flashdev"
	"ebikecode-go/x/crc"
)

func slotName(slot uint8) string {
	if slot == abmeta.SlotNone {
		return "none"
	}
	return strconv.Itoa(int(slot))
}

func abCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ab",
		Short: "Manage A/B firmware slots",
	}
	cmd.AddCommand(abStatusCmd(), abSetPendingCmd(), abInitCmd(), abInstallCmd())
	return cmd
}

func abStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the A/B pointer record and slot headers",
		Run: func(cmd *cobra.Command, args []string) {
			sim, st := openImage()
			m := st.ABMeta()
			fmt.Printf("active %d, pending %s, last-good %d, seq %d\n",
				m.Active, slotName(m.Pending), m.LastGood, m.Seq)
			layout := storage.DefaultLayout()
			hdr := make([]byte, abmeta.SlotHeaderSize)
			for slot := uint8(0); slot < 2; slot++ {
				addr := layout.ABSlotBase + uint32(slot)*layout.ABSlotStride
				if err := sim.ReadAt(hdr, addr); err != nil {
					log.Fatalf("read slot %d: %v", slot, err)
				}
				var h abmeta.SlotHeader
				if !abmeta.DecodeSlotHeader(hdr, &h) {
					fmt.Printf("slot %d: empty\n", slot)
					continue
				}
				fmt.Printf("slot %d: %d bytes, crc %08x, build %08x\n",
					slot, h.ImageSize, h.CRC32, h.BuildID)
			}
		},
	}
}

func abSetPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-pending <slot>",
		Short: "Stage a slot for promotion at next boot",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			slot, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				log.Fatalf("invalid slot: %v", err)
			}
			sim, st := openImage()
			if code := st.ABSetPending(uint8(slot)); code != errcode.OK {
				log.Fatalf("set pending: %v", code)
			}
			saveImage(sim)
			log.Infof("slot %d pending", slot)
		},
	}
}

func abInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Run the boot-time promotion check",
		Run: func(cmd *cobra.Command, args []string) {
			sim, st := openImage()
			if err := st.ABInit(); err != nil {
				log.Fatalf("promotion: %v", err)
			}
			saveImage(sim)
			m := st.ABMeta()
			log.Infof("active %d, pending %s", m.Active, slotName(m.Pending))
		},
	}
}

func abInstallCmd() *cobra.Command {
	var buildID uint32
	cmd := &cobra.Command{
		Use:   "install <slot> <payload.bin>",
		Short: "Write a firmware payload into an image slot",
		Long: "Install erases the slot region and writes a 32-byte slot\n" +
			"header followed by the payload. The header carries the payload\n" +
			"CRC that promotion validates at boot.",
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			slot, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil || slot > 1 {
				log.Fatalf("invalid slot %q", args[0])
			}
			payload, err := os.ReadFile(args[1])
			if err != nil {
				log.Fatalf("%v", errors.Wrap(err, "read payload"))
			}
			layout := storage.DefaultLayout()
			if uint32(len(payload))+abmeta.SlotHeaderSize > layout.ABSlotStride {
				log.Fatalf("payload %d bytes exceeds slot capacity %d",
					len(payload), layout.ABSlotStride-abmeta.SlotHeaderSize)
			}
			if buildID == 0 {
				buildID = uuid.New().ID()
			}

			h := abmeta.SlotHeader{
				Version:    abmeta.SlotHeaderVersion,
				HeaderSize: abmeta.SlotHeaderSize,
				ImageSize:  uint32(len(payload)),
				CRC32:      crc.Sum32(payload),
				BuildID:    buildID,
			}
			img := make([]byte, abmeta.SlotHeaderSize+len(payload))
			abmeta.EncodeSlotHeader(&h, img)
			copy(img[abmeta.SlotHeaderSize:], payload)

			sim, _ := openImage()
			base := layout.ABSlotBase + uint32(slot)*layout.ABSlotStride
			for off := uint32(0); off < layout.ABSlotStride; off += flashdev.SectorSize {
				if err := sim.EraseSector(base + off); err != nil {
					log.Fatalf("erase slot: %v", err)
				}
			}
			if err := flashdev.ProgramChunks(sim, base, img); err != nil {
				log.Fatalf("program slot: %v", err)
			}
			saveImage(sim)
			log.Infof("slot %d: %d bytes, crc %08x, build %08x",
				slot, h.ImageSize, h.CRC32, h.BuildID)
		},
	}
	cmd.Flags().Uint32Var(&buildID, "build-id", 0,
		"build identifier (default: random)")
	return cmd
}
