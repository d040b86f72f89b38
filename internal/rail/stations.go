package rail

import "slices"

var stations = []string{
	"서울", "용산", "광명", "천안아산", "오송", "대전", "김천(구미)", "신경주",
	"울산(통도사)", "부산", "공주", "익산", "정읍", "광주송정", "목포", "전주",
	"남원", "순천", "여천", "여수엑스포", "청량리", "양평", "원주", "제천",
	"단양", "풍기", "영주", "안동", "창원중앙", "창원", "마산", "진주", "홍성",
	"군산", "강릉", "만종", "둔내", "평창", "진부", "포항",
}

// Stations returns the station names offered in the search form.
func Stations() []string { return slices.Clone(stations) }

func IsStation(name string) bool { return slices.Contains(stations, name) }
