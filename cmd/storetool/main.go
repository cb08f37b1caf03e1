// Command storetool inspects and manipulates display-controller flash
// images on the host: dump the logs, build and push config blobs,
// stage firmware slots and read crash dumps, all against an image file
// instead of the real part.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ebikecode-go/storage"
	"ebikecode-go/storage/memflash"
)

var (
	imagePath string
	verbose   bool
)

func main() {
	root := &cobra.Command{
		Use:   "storetool",
		Short: "Inspect and edit controller flash images",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&imagePath, "image", "i", "flash.img",
		"flash image file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	root.AddCommand(initCmd(), infoCmd(), eventsCmd(), streamCmd(),
		configCmd(), crashCmd(), abCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openImage maps the image file into a flash sim and boots the store
// on top of it. Mutating commands must call saveImage afterwards; the
// sim aliases buf, so every store write lands in it.
func openImage() (*memflash.Sim, *storage.Store) {
	buf, err := os.ReadFile(imagePath)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	layout := storage.DefaultLayout()
	if uint32(len(buf)) < layout.End() {
		log.Fatalf("image too small: have %d bytes, layout needs %d",
			len(buf), layout.End())
	}
	sim := memflash.NewFromBytes(buf)
	st, err := storage.New(sim, storage.Config{Layout: layout})
	if err != nil {
		log.Fatalf("layout: %v", err)
	}
	if err := st.Load(); err != nil {
		log.Fatalf("load store: %v", err)
	}
	return sim, st
}

func saveImage(sim *memflash.Sim) {
	if err := os.WriteFile(imagePath, sim.Bytes(), 0644); err != nil {
		log.Fatalf("write image: %v", err)
	}
	log.Debugf("wrote %s", imagePath)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a blank image with factory state",
		Run: func(cmd *cobra.Command, args []string) {
			layout := storage.DefaultLayout()
			buf := make([]byte, layout.End())
			for i := range buf {
				buf[i] = 0xFF
			}
			if err := os.WriteFile(imagePath, buf, 0644); err != nil {
				log.Fatalf("%v", errors.Wrap(err, "create image"))
			}
			// Booting the store persists factory config and A/B meta.
			sim, _ := openImage()
			saveImage(sim)
			log.Infof("initialized %s (%d bytes)", imagePath, len(buf))
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize the image contents",
		Run: func(cmd *cobra.Command, args []string) {
			_, st := openImage()
			cfg := st.ActiveConfig()
			fmt.Printf("config:  slot %d, seq %d, mode %d, profile %d\n",
				st.ConfigSlot(), cfg.Seq, cfg.Mode, cfg.ProfileID)
			em, sm := st.EventMeta(), st.StreamMeta()
			fmt.Printf("events:  %d records (head %d, cap %d)\n",
				em.Count, em.Head, em.Capacity)
			fmt.Printf("stream:  %d records (head %d, cap %d)\n",
				sm.Count, sm.Head, sm.Capacity)
			ab := st.ABMeta()
			fmt.Printf("a/b:     active %d, pending %s, last-good %d, seq %d\n",
				ab.Active, slotName(ab.Pending), ab.LastGood, ab.Seq)
		},
	}
}
