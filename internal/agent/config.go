package agent

import (
	"fmt"

	"github.com/otarescue-io/otarescue/internal/backup"
	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/internal/hal"
	"github.com/otarescue-io/otarescue/internal/server"
	"github.com/otarescue-io/otarescue/pkg/log"
	"github.com/otarescue-io/otarescue/pkg/options"
)

// Config carries everything the agent needs to come up.
type Config struct {
	FlashOptions *options.FlashOptions
	HttpOptions  *options.HttpOptions
	MqttOptions  *options.MqttOptions
	S3Options    *options.S3Options
}

// NewAgent opens the flash, reads the partition table and wires the engine to
// its HTTP and MQTT frontends.
func (cfg *Config) NewAgent() (*Agent, error) {
	fo := cfg.FlashOptions

	dev, err := hal.NewFileDevice(fo.ImagePath, fo.ChipSize, fo.SectorSize)
	if err != nil {
		return nil, err
	}

	dir, err := flash.ReadDirectory(dev, fo.TableOffset)
	if err != nil {
		dev.Close()
		return nil, err
	}

	otadata, ok := dir.BySubkind(flash.KindData, flash.SubOTAData)
	if !ok {
		dev.Close()
		return nil, fmt.Errorf("partition table has no otadata entry")
	}
	bootStore, err := flash.NewBootStore(dev, otadata)
	if err != nil {
		dev.Close()
		return nil, err
	}

	running, hasRunning, err := resolveRunning(dir, bootStore, fo.RunningLabel)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if hasRunning {
		log.Info("Running partition identified", "label", running.Label, "base", running.Address)
	} else {
		log.Warn("Running partition unknown, applying default write ceiling")
	}

	engine := flash.NewEngine(dir, dev, bootStore, running, hasRunning)
	state := NewOpState()
	restarter := hal.NewRestarter()

	a := &Agent{
		engine:    engine,
		state:     state,
		dev:       dev,
		restarter: restarter,
		deviceID:  fo.DeviceID,
	}

	var uploader backup.Uploader
	if cfg.S3Options != nil && cfg.S3Options.Enabled {
		uploader, err = backup.NewMinIOUploader(cfg.S3Options)
		if err != nil {
			dev.Close()
			return nil, err
		}
		a.uploader = uploader
	}

	a.httpServer = server.NewServer(cfg.HttpOptions, server.Config{
		Engine:         engine,
		Gate:           state,
		Uploader:       uploader,
		DeviceID:       fo.DeviceID,
		RequestRestart: a.requestRestart,
	})

	if cfg.MqttOptions != nil && cfg.MqttOptions.Enabled {
		announcer, err := NewAnnouncer(cfg.MqttOptions, fo.DeviceID, engine, state, a.requestRestart)
		if err != nil {
			dev.Close()
			return nil, err
		}
		a.announcer = announcer
	}

	return a, nil
}

// resolveRunning decides which partition is currently executing: an explicit
// override label when configured, otherwise the slot the boot pointer selects.
func resolveRunning(dir *flash.Directory, bootStore *flash.BootStore, override string) (flash.Partition, bool, error) {
	if override != "" {
		p, err := dir.Resolve(override)
		if err != nil {
			return flash.Partition{}, false, fmt.Errorf("flash.running-label: %w", err)
		}
		return p, true, nil
	}

	slot, err := bootStore.Current()
	if err != nil {
		return flash.Partition{}, false, err
	}
	sub := flash.SubOTA0
	if slot == 1 {
		sub = flash.SubOTA1
	}
	if p, ok := dir.BySubkind(flash.KindApp, sub); ok {
		return p, true, nil
	}
	return flash.Partition{}, false, nil
}
