package srt

import "slices"

// station names in display order with their reservation codes
var stations = []struct{ name, code string }{
	{"수서", "0551"},
	{"동탄", "0552"},
	{"지제", "0553"},
	{"천안아산", "0502"},
	{"오송", "0297"},
	{"대전", "0010"},
	{"김천(구미)", "0507"},
	{"동대구", "0015"},
	{"신경주", "0508"},
	{"울산(통도사)", "0509"},
	{"부산", "0020"},
	{"공주", "0514"},
	{"익산", "0030"},
	{"정읍", "0033"},
	{"광주송정", "0036"},
	{"나주", "0037"},
	{"목포", "0041"},
}

func Stations() []string {
	names := make([]string, 0, len(stations))
	for _, s := range stations {
		names = append(names, s.name)
	}
	return names
}

func IsStation(name string) bool {
	_, ok := stationCode(name)
	return ok
}

func stationCode(name string) (string, bool) {
	i := slices.IndexFunc(stations, func(s struct{ name, code string }) bool { return s.name == name })
	if i < 0 {
		return "", false
	}
	return stations[i].code, true
}

// stationName falls back to the code for stations missing from the list.
func stationName(code string) string {
	i := slices.IndexFunc(stations, func(s struct{ name, code string }) bool { return s.code == code })
	if i < 0 {
		return code
	}
	return stations[i].name
}
