package config

import (
	"reflect"
	"strings"

	logx "remindbot/pkg/logx"
)

// Change summarizes a reload for logging and for deciding what to re-apply.
type Change struct {
	Sections []string
	// RestartRequired lists sections that only take effect on restart.
	RestartRequired []string
	Fields          []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs. Secrets are reported as set/unset only.
func Diff(oldCfg, newCfg Config) Change {
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout {
		mark("telegram.bot", true, logx.String("telegram.poll_timeout", nt.PollTimeout))
	}
	if ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID || ot.RatePerSec != nt.RatePerSec {
		mark("telegram.recipient", false, logx.Int64("telegram.chat_id", nt.ChatID))
	}

	if oldCfg.Schedule != newCfg.Schedule {
		s := newCfg.Schedule
		mark("schedule", false,
			logx.String("schedule.reminder", s.Reminder),
			logx.String("schedule.followup", s.Followup),
			logx.String("schedule.reset", s.Reset),
			logx.String("schedule.timezone", s.Timezone),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		mark("content", false, logx.String("content.images_dir", newCfg.Content.ImagesDir))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) || ot.GroupLog != nt.GroupLog {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		mark("task_engine", true)
	}

	oo, no := oldCfg.Ops, newCfg.Ops
	if oo.Addr != no.Addr || oo.Pprof != no.Pprof || (strings.TrimSpace(oo.Token) != "") != (strings.TrimSpace(no.Token) != "") {
		mark("ops", true, logx.String("ops.addr", no.Addr), logx.Bool("ops.token_set", strings.TrimSpace(no.Token) != ""))
	} else if oo.Token != no.Token {
		mark("ops", true, logx.Bool("ops.token_set", true))
	}
	return ch
}
