package scrape

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// DefaultRegistry returns the built-in static site registry. Deployments can
// override individual entries (channel IDs, block signatures, proxy hints)
// through configuration; board structure stays in the profiles below.
func DefaultRegistry() []notice.District {
	blocked403 := notice.BlockSignature{StatusCode: http.StatusForbidden}
	return []notice.District{
		{Code: notice.Bukgu, Name: "북구", BaseURL: "https://www.bsbukgu.go.kr"},
		{Code: notice.Donggu, Name: "동구", BaseURL: "https://www.bsdonggu.go.kr"},
		{Code: notice.Dongnae, Name: "동래구", BaseURL: "https://www.dongnae.go.kr"},
		{Code: notice.Gangseo, Name: "강서구", BaseURL: "https://www.bsgangseo.go.kr"},
		{Code: notice.Geumjeong, Name: "금정구", BaseURL: "https://www.geumjeong.go.kr", RequiresProxy: true, Block: blocked403},
		{Code: notice.Gijang, Name: "기장군", BaseURL: "https://www.gijang.go.kr"},
		{Code: notice.Haeundae, Name: "해운대구", BaseURL: "https://www.haeundae.go.kr", RequiresProxy: true, Block: blocked403},
		{Code: notice.Jingu, Name: "부산진구", BaseURL: "https://www.busanjin.go.kr", RequiresProxy: true, Block: blocked403},
		{Code: notice.Junggu, Name: "중구", BaseURL: "https://www.bsjunggu.go.kr", RequiresProxy: true, Block: blocked403},
		{Code: notice.Namgu, Name: "남구", BaseURL: "https://www.bsnamgu.go.kr"},
		{Code: notice.Saha, Name: "사하구", BaseURL: "https://www.saha.go.kr", RequiresProxy: true},
		{Code: notice.Sasang, Name: "사상구", BaseURL: "https://www.sasang.go.kr", RequiresProxy: true, Block: blocked403},
		{Code: notice.Seogu, Name: "서구", BaseURL: "https://www.bsseogu.go.kr"},
		{Code: notice.Suyeong, Name: "수영구", BaseURL: "https://www.suyeong.go.kr"},
		{Code: notice.Yeongdogu, Name: "영도구", BaseURL: "https://www.yeongdo.go.kr"},
		{Code: notice.Yeonje, Name: "연제구", BaseURL: "https://www.yeonje.go.kr"},
	}
}

// ForDistrict builds the adapter for one registry entry. Every code in the
// registry has a profile; an unknown code is a configuration error.
func ForDistrict(district notice.District, fetcher notice.Fetcher, maxPages int, logger *zap.Logger) (notice.Scraper, error) {
	profile, ok := profiles[district.Code]
	if !ok {
		return nil, fmt.Errorf("no board profile for district %q", district.Code)
	}
	return NewBoard(district, profile, fetcher, maxPages, logger), nil
}

// All builds adapters for every entry in the registry.
func All(districts []notice.District, fetcher notice.Fetcher, maxPages int, logger *zap.Logger) ([]notice.Scraper, error) {
	scrapers := make([]notice.Scraper, 0, len(districts))
	for _, d := range districts {
		s, err := ForDistrict(d, fetcher, maxPages, logger)
		if err != nil {
			return nil, err
		}
		scrapers = append(scrapers, s)
	}
	return scrapers, nil
}

var profiles = map[notice.DistrictCode]Profile{
	notice.Bukgu: {
		ListURL:         "https://www.bsbukgu.go.kr/board/list.bsbukgu?boardId=BBS_0000244&menuCd=DOM_000000102014000000&paging=ok&startPage={page}",
		ListSelector:    "#conts > div.board-list-wrap > table > tbody",
		ContentSelector: "#conts > div.board-view-wrap > div",
	},
	notice.Donggu: {
		ListURL:         "https://www.bsdonggu.go.kr/welfare/board/list.donggu?boardId=BBS_0000355&menuCd=DOM_000000206010000000&paging=ok&startPage={page}",
		ListSelector:    "#contents > table",
		ContentSelector: "#contents > table > tbody > tr.bbs_content_area > td",
	},
	notice.Dongnae: {
		ListURL:         "https://www.dongnae.go.kr/board/list.dongnae?boardId=BBS_0000363&listRow=10&listCel=1&menuCd=DOM_000000509002000000&startPage={page}",
		ListSelector:    "#contents > div > table > tbody",
		ContentSelector: "#view > table > tbody",
	},
	notice.Gangseo: {
		ListURL:         "https://www.bsgangseo.go.kr/welfare/board/post/list.do?bcIdx=567&mid=0604030000",
		Method:          http.MethodPost,
		PostParams:      gangseoPostParams,
		LinkStyle:       LinkRegex,
		LinkPattern:     `data-req-get-p-idx="(\d+)"`,
		DetailURL:       "https://www.bsgangseo.go.kr/welfare/board/post/view.do?bcIdx=567&mid=0604030000&&idx={id}",
		ContentSelector: "div.view_cont",
	},
	notice.Geumjeong: {
		ListURL:         "https://www.geumjeong.go.kr/board/list.geumj?boardId=BBS_0000372&menuCd=DOM_000000126020001000&startPage={page}",
		ListSelector:    "#print > table > tbody",
		ContentSelector: "#print > table > tbody > tr:nth-child(3) > td",
	},
	notice.Gijang: {
		ListURL:         "https://www.gijang.go.kr/board/list.gijang?boardId=BBS_0000157&menuCd=DOM_000000103008001000&paging=ok&startPage={page}",
		ListSelector:    "#conts > div > table",
		ContentSelector: "#conts > div > table > tbody",
	},
	notice.Haeundae: {
		ListURL:         "https://www.haeundae.go.kr/edu/board/list.do?boardId=BBS_0000465&menuCd=DOM_000000104001009000&paging=ok&startPage={page}",
		ListSelector:    "#font_size > div.table.respond > table",
		ContentSelector: "#font_size > article > table > tbody",
		BrTag:           "<br />",
	},
	notice.Jingu: {
		ListURL:         "https://www.busanjin.go.kr/board/list.busanjin?boardId=BBS_0000260&menuCd=DOM_000000107005004000&paging=ok&startPage={page}",
		ListSelector:    "#sub_contentnw > div > div.board-list > table > tbody",
		ContentSelector: "#sub_contentnw > div > div.board-view > div > div.substan",
	},
	notice.Junggu: {
		ListURL:         "https://www.bsjunggu.go.kr/board/list.junggu?boardId=BBS_0000184&menuCd=DOM_000000401006000000&paging=ok&startPage={page}",
		ListSelector:    "#content > table",
		ContentSelector: "#content > div.bbs_vtype > div",
		BrTag:           "<br />",
	},
	notice.Namgu: {
		ListURL:         "https://www.bsnamgu.go.kr/board/list.namgu?boardId=BBS_0000315&menuCd=DOM_000000105001009000&paging=ok&startPage={page}",
		ListSelector:    "#conts > table > tbody",
		ContentSelector: "#conts > div > table > tbody",
	},
	notice.Saha: {
		ListURL:         "https://www.saha.go.kr/portal/bbs/list.do?ptIdx=737&mId=0505050000&page={page}",
		ListSelector:    "table.tableSt_list",
		ContentSelector: "div.cont_box",
		LinkStyle:       LinkOnClick,
		OnClickLink:     sahaOnClick,
		BrTag:           "<br />",
	},
	notice.Sasang: {
		ListURL:         "https://www.sasang.go.kr/board/list.sasang?boardId=BBS_0000268&menuCd=DOM_000000103009000000&startPage={page}",
		ListSelector:    "#content > table",
		ContentSelector: "#content > div.bbs_vtype > div",
		BrTag:           "<br />",
	},
	notice.Seogu: {
		ListURL:         "https://www.bsseogu.go.kr/board/list.bsseogu?boardId=BBS_0000214&menuCd=DOM_000000103001020000&orderBy=REGISTER_DATE%20DESC&paging=ok&startPage={page}",
		ListSelector:    "#content > div.content-inner > div.content-inner > div.bloglist-wrap > ul",
		ContentSelector: "div.substan",
	},
	notice.Suyeong: {
		ListURL:         "https://www.suyeong.go.kr/city/board/list.suyeong?boardId=BBS_0000304&menuCd=DOM_000000103001015000&paging=ok&startPage={page}",
		ListSelector:    "#con_area > table > tbody",
		ContentSelector: "#con_area > div.bbs_vtype > div",
		BrTag:           "<br>",
	},
	notice.Yeongdogu: {
		ListURL:         "https://www.yeongdo.go.kr/02418/02419/04252.web?gcode=1312&cpage={page}",
		ListSelector:    "ul.lst1",
		ContentSelector: "div.substanceautolink",
	},
	notice.Yeonje: {
		ListURL:         "https://www.yeonje.go.kr/portal/bbs/list.do?ptIdx=234&mId=0206100000",
		Method:          http.MethodPost,
		PostParams:      yeonjePostParams,
		ListSelector:    "table.bod_list",
		ContentSelector: "#conts > div > div.bod_view > div.view_cont",
		LinkStyle:       LinkOnClick,
		OnClickLink:     yeonjeOnClick,
		BrTag:           "<br>",
	},
}

// sahaOnClick rebuilds the detail path from boardView('..','..','..','bIdx','ptIdx','mId').
func sahaOnClick(onclick string) string {
	if !strings.Contains(onclick, "boardView(") {
		return ""
	}
	parts := onclickArgs(onclick, "boardView(")
	if len(parts) < 6 {
		return ""
	}
	return fmt.Sprintf("/portal/bbs/view.do?mId=%s&bIdx=%s&ptIdx=%s", parts[5], parts[3], parts[4])
}

// yeonjeOnClick rebuilds the detail path from goTo.view('','bIdx','ptIdx','mId').
func yeonjeOnClick(onclick string) string {
	if !strings.Contains(onclick, "goTo.view(") {
		return ""
	}
	parts := onclickArgs(onclick, "goTo.view(")
	if len(parts) < 4 {
		return ""
	}
	return fmt.Sprintf("/portal/bbs/view.do?bIdx=%s&ptIdx=%s&mId=%s", parts[1], parts[2], parts[3])
}

func onclickArgs(onclick, prefix string) []string {
	idx := strings.Index(onclick, prefix)
	if idx < 0 {
		return nil
	}
	s := onclick[idx+len(prefix):]
	if end := strings.Index(s, ")"); end >= 0 {
		s = s[:end]
	}
	s = strings.NewReplacer("'", "", "\"", "", " ", "").Replace(s)
	return strings.Split(s, ",")
}

func gangseoPostParams(page int) url.Values {
	return url.Values{
		"page":       {fmt.Sprintf("%d", page)},
		"cancelUrl":  {"/welfare/board/post/list.do?bcIdx=567&mid=0604030000"},
		"searchType": {"0"},
		"searchTxt":  {""},
	}
}

func yeonjePostParams(page int) url.Values {
	return url.Values{
		"page": {fmt.Sprintf("%d", page)},
	}
}
