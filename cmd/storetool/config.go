package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ebikecode-go/errcode"
	"ebikecode-go/storage/cfgstore"
)

// configDoc is the YAML form of a config blob. Seq and CRC are owned
// by the device and never round-trip through YAML.
type configDoc struct {
	Wheel_mm    uint16 `yaml:"wheel_mm"`
	Units       uint8  `yaml:"units"`
	ProfileID   uint8  `yaml:"profile"`
	Theme       uint8  `yaml:"theme"`
	ButtonMap   uint8  `yaml:"button_map"`
	ButtonFlags uint8  `yaml:"button_flags"`
	Mode        uint8  `yaml:"mode"`
	PIN         uint16 `yaml:"pin"`

	MaxCurrent_dA uint16 `yaml:"max_current_da"`
	MaxSpeed_dmph uint16 `yaml:"max_speed_dmph"`
	LogPeriod_ms  uint16 `yaml:"log_period_ms"`
	SoftStart_ms  uint16 `yaml:"soft_start_ms"`
	BoostPower_W  uint16 `yaml:"boost_power_w"`
	BoostTime_ms  uint16 `yaml:"boost_time_ms"`
	DriveMode     uint8  `yaml:"drive_mode"`

	ManualAssist     uint8  `yaml:"manual_assist"`
	ManualPower_W    uint16 `yaml:"manual_power_w"`
	ManualCurrent_dA uint16 `yaml:"manual_current_da"`

	Curve []struct {
		X uint16 `yaml:"x"`
		Y uint16 `yaml:"y"`
	} `yaml:"curve"`
}

func docFromBlob(b cfgstore.Blob) configDoc {
	d := configDoc{
		Wheel_mm:         b.Wheel_mm,
		Units:            b.Units,
		ProfileID:        b.ProfileID,
		Theme:            b.Theme,
		ButtonMap:        b.ButtonMap,
		ButtonFlags:      b.ButtonFlags,
		Mode:             b.Mode,
		PIN:              b.PIN,
		MaxCurrent_dA:    b.MaxCurrent_dA,
		MaxSpeed_dmph:    b.MaxSpeed_dmph,
		LogPeriod_ms:     b.LogPeriod_ms,
		SoftStart_ms:     b.SoftStart_ms,
		BoostPower_W:     b.BoostPower_W,
		BoostTime_ms:     b.BoostTime_ms,
		DriveMode:        b.DriveMode,
		ManualAssist:     b.ManualAssist,
		ManualPower_W:    b.ManualPower_W,
		ManualCurrent_dA: b.ManualCurrent_dA,
	}
	for i := uint8(0); i < b.CurveCount && i < cfgstore.CurveMax; i++ {
		d.Curve = append(d.Curve, struct {
			X uint16 `yaml:"x"`
			Y uint16 `yaml:"y"`
		}{b.Curve[i].X, b.Curve[i].Y})
	}
	return d
}

func blobFromDoc(d configDoc) (cfgstore.Blob, error) {
	b := cfgstore.Blob{
		Version:          cfgstore.BlobVersion,
		Size:             cfgstore.BlobSize,
		Wheel_mm:         d.Wheel_mm,
		Units:            d.Units,
		ProfileID:        d.ProfileID,
		Theme:            d.Theme,
		ButtonMap:        d.ButtonMap,
		ButtonFlags:      d.ButtonFlags,
		Mode:             d.Mode,
		PIN:              d.PIN,
		MaxCurrent_dA:    d.MaxCurrent_dA,
		MaxSpeed_dmph:    d.MaxSpeed_dmph,
		LogPeriod_ms:     d.LogPeriod_ms,
		SoftStart_ms:     d.SoftStart_ms,
		BoostPower_W:     d.BoostPower_W,
		BoostTime_ms:     d.BoostTime_ms,
		DriveMode:        d.DriveMode,
		ManualAssist:     d.ManualAssist,
		ManualPower_W:    d.ManualPower_W,
		ManualCurrent_dA: d.ManualCurrent_dA,
	}
	if len(d.Curve) > cfgstore.CurveMax {
		return b, errors.Errorf("curve has %d points, max %d",
			len(d.Curve), cfgstore.CurveMax)
	}
	b.CurveCount = uint8(len(d.Curve))
	for i, p := range d.Curve {
		b.Curve[i] = cfgstore.CurvePoint{X: p.X, Y: p.Y}
	}
	return b, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, build and push configuration blobs",
	}
	cmd.AddCommand(configShowCmd(), configBuildCmd(), configPushCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active config as YAML",
		Run: func(cmd *cobra.Command, args []string) {
			_, st := openImage()
			b := st.ActiveConfig()
			out, err := yaml.Marshal(docFromBlob(b))
			if err != nil {
				log.Fatalf("encode yaml: %v", err)
			}
			fmt.Printf("# slot %d, seq %d\n%s", st.ConfigSlot(), b.Seq, out)
		},
	}
}

func configBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <in.yaml> <out.bin>",
		Short: "Build a sealed config blob from YAML",
		Long: "Build encodes the YAML document into the 128-byte wire blob\n" +
			"with its CRC sealed. The sequence number is left zero; the\n" +
			"device assigns it when the blob is staged.",
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			in, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatalf("%v", errors.Wrap(err, "read yaml"))
			}
			var d configDoc
			if err := yaml.Unmarshal(in, &d); err != nil {
				log.Fatalf("%v", errors.Wrap(err, "parse yaml"))
			}
			b, err := blobFromDoc(d)
			if err != nil {
				log.Fatalf("%v", err)
			}
			raw := make([]byte, cfgstore.BlobSize)
			b.StoreBE(raw)
			if err := os.WriteFile(args[1], raw, 0644); err != nil {
				log.Fatalf("%v", errors.Wrap(err, "write blob"))
			}
			log.Infof("wrote %s (crc %08x)", args[1], b.CRC32)
		},
	}
}

func configPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <blob.bin>",
		Short: "Stage and commit a config blob into the image",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				log.Fatalf("expected: blob.bin")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatalf("%v", errors.Wrap(err, "read blob"))
			}
			sim, st := openImage()
			if code := st.StageConfig(raw); code != errcode.OK {
				log.Fatalf("stage rejected: %v", code)
			}
			if code := st.CommitConfig(raw); code != errcode.OK {
				log.Fatalf("commit rejected: %v", code)
			}
			saveImage(sim)
			log.Infof("config committed, now seq %d in slot %d",
				st.ActiveConfig().Seq, st.ConfigSlot())
		},
	}
}
