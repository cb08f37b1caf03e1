package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ebikecode-go/storage/crashdump"
)

func crashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crash",
		Short: "Read or clear the stored crash dump",
	}
	cmd.AddCommand(crashShowCmd(), crashClearCmd())
	return cmd
}

func crashShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored crash dump",
		Run: func(cmd *cobra.Command, args []string) {
			_, st := openImage()
			var d crashdump.Dump
			if !st.CrashLoad(&d) {
				fmt.Println("no crash dump stored")
				return
			}
			fmt.Printf("crash #%d at %dms\n", d.Seq, d.Ms)
			fmt.Printf("  sp=%08x lr=%08x pc=%08x psr=%08x\n",
				d.SP, d.LR, d.PC, d.PSR)
			fmt.Printf("  cfsr=%08x hfsr=%08x dfsr=%08x\n",
				d.Regs.CFSR, d.Regs.HFSR, d.Regs.DFSR)
			fmt.Printf("  mmfar=%08x bfar=%08x afsr=%08x\n",
				d.Regs.MMFAR, d.Regs.BFAR, d.Regs.AFSR)
			fmt.Printf("  %d trailing events (log seq %d):\n",
				d.EventCount, d.EventSeq)
			for i := uint8(0); i < d.EventCount; i++ {
				r := d.Events[i]
				fmt.Printf("    %10dms  %-14s flags=%02x\n",
					r.Ms, eventName(r.Type), r.Flags)
			}
		},
	}
}

func crashClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the stored crash dump",
		Run: func(cmd *cobra.Command, args []string) {
			sim, st := openImage()
			if err := st.CrashClear(); err != nil {
				log.Fatalf("clear: %v", err)
			}
			saveImage(sim)
		},
	}
}
