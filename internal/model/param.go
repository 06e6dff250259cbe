package model

import (
	"fmt"
	"strconv"
)

// ParamKind enumerates the fixed parameters every instance carries. The
// values match the host parameter indices.
type ParamKind int32

const (
	ParamScriptGroupStart ParamKind = iota + 1
	ParamLoadButton
	ParamUnloadButton
	ParamSetVenv
	ParamUnsetVenv
	ParamReloadButton
	ParamScriptGroupEnd
	ParamIsImageFilter
	ParamDebugGroupBegin
	ParamShowDebug
	ParamDebugOffset
	ParamTemporalWindow
	ParamDebugGroupEnd
	ParamContinuousRenderGroupBegin
	ParamStartRender
	ParamCancelRender
	ParamContinuousRenderGroupEnd
	ParamParametersStart
	ParamParametersEnd

	// ParamDynamic marks an index created at runtime by a loaded script.
	ParamDynamic ParamKind = -1
)

var paramKindNames = map[ParamKind]string{
	ParamScriptGroupStart:           "script_group_start",
	ParamLoadButton:                 "load_button",
	ParamUnloadButton:               "unload_button",
	ParamSetVenv:                    "set_venv",
	ParamUnsetVenv:                  "unset_venv",
	ParamReloadButton:               "reload_button",
	ParamScriptGroupEnd:             "script_group_end",
	ParamIsImageFilter:              "is_image_filter",
	ParamDebugGroupBegin:            "debug_group_begin",
	ParamShowDebug:                  "show_debug",
	ParamDebugOffset:                "debug_offset",
	ParamTemporalWindow:             "temporal_window",
	ParamDebugGroupEnd:              "debug_group_end",
	ParamContinuousRenderGroupBegin: "continuous_render_group_begin",
	ParamStartRender:                "start_render",
	ParamCancelRender:               "cancel_render",
	ParamContinuousRenderGroupEnd:   "continuous_render_group_end",
	ParamParametersStart:            "parameters_start",
	ParamParametersEnd:              "parameters_end",
}

// ParamIdx is a parameter index: either one of the fixed kinds or a dynamic
// slot carrying the offset the script registered it under.
type ParamIdx struct {
	Kind   ParamKind
	Offset int32
}

// Named returns the index of a fixed parameter.
func Named(k ParamKind) ParamIdx {
	return ParamIdx{Kind: k}
}

// Dynamic returns the index of a script-created parameter.
func Dynamic(offset int32) ParamIdx {
	return ParamIdx{Kind: ParamDynamic, Offset: offset}
}

// IsDynamic reports whether p refers to a script-created parameter.
func (p ParamIdx) IsDynamic() bool {
	return p.Kind == ParamDynamic
}

// HostIndex converts p to the raw host parameter index.
func (p ParamIdx) HostIndex() int32 {
	if p.IsDynamic() {
		return p.Offset
	}
	return int32(p.Kind)
}

// ParamFromHost maps a raw host parameter index onto a ParamIdx. Indices
// outside the fixed range become dynamic slots.
func ParamFromHost(index int32) ParamIdx {
	k := ParamKind(index)
	if k >= ParamScriptGroupStart && k <= ParamParametersEnd {
		return Named(k)
	}
	return Dynamic(index)
}

func (p ParamIdx) String() string {
	if p.IsDynamic() {
		return "dynamic(" + strconv.FormatInt(int64(p.Offset), 10) + ")"
	}
	if name, ok := paramKindNames[p.Kind]; ok {
		return name
	}
	return fmt.Sprintf("param(%d)", int32(p.Kind))
}

// MarshalText encodes p as its raw host index so it can key JSON maps.
func (p ParamIdx) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(p.HostIndex()), 10)), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *ParamIdx) UnmarshalText(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return fmt.Errorf("parse param index %q: %w", b, err)
	}
	*p = ParamFromHost(int32(v))
	return nil
}
