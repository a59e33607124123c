// Package category はフィード記事をタイの報道カテゴリに分類する。
package category

import "strings"

// 分類先のカテゴリラベル。
const (
	Politics      = "การเมือง"
	Sports        = "กีฬา"
	Economy       = "เศรษฐกิจ"
	Technology    = "เทคโนโลยี"
	Health        = "สุขภาพ"
	Education     = "การศึกษา"
	Entertainment = "บันเทิง"
	Local         = "ข่าวท้องถิ่น"
)

// bucket はカテゴリとその判定キーワードの組。
type bucket struct {
	label    string
	keywords []string
}

// buckets は判定順に並べたキーワード集合。先に一致したものが優先される。
var buckets = []bucket{
	{Politics, []string{"politic", "government", "election", "parliament", "การเมือง", "รัฐบาล", "เลือกตั้ง", "รัฐสภา", "นายกรัฐมนตรี"}},
	{Sports, []string{"sport", "football", "soccer", "boxing", "muay", "กีฬา", "ฟุตบอล", "มวย", "วอลเลย์บอล"}},
	{Economy, []string{"business", "economy", "economic", "finance", "market", "stock", "เศรษฐกิจ", "ธุรกิจ", "การเงิน", "ตลาดหุ้น", "การค้า"}},
	{Technology, []string{"tech", "technology", "science", "digital", "gadget", "เทคโนโลยี", "ไอที", "วิทยาศาสตร์", "ดิจิทัล"}},
	{Health, []string{"health", "medical", "medicine", "covid", "hospital", "สุขภาพ", "การแพทย์", "โรงพยาบาล", "สาธารณสุข"}},
	{Education, []string{"education", "school", "university", "student", "การศึกษา", "โรงเรียน", "มหาวิทยาลัย", "นักเรียน"}},
	{Entertainment, []string{"entertainment", "celebrity", "movie", "music", "drama", "บันเทิง", "ดารา", "ภาพยนตร์", "เพลง", "ละคร"}},
	{Local, []string{"local", "regional", "province", "provincial", "ท้องถิ่น", "ภูมิภาค", "จังหวัด", "อำเภอ", "ชุมชน"}},
}

// Determine はフィード記事のカテゴリを決定する。
// 記事自身のカテゴリタグがあれば先頭タグをキーワード集合と照合し、
// 一致しない場合やタグが無い場合はフィードに設定されたカテゴリを返す。
func Determine(feedCategory string, itemCategories []string) string {
	if len(itemCategories) == 0 {
		return feedCategory
	}

	tag := strings.ToLower(strings.TrimSpace(itemCategories[0]))
	if tag == "" {
		return feedCategory
	}

	for _, b := range buckets {
		for _, kw := range b.keywords {
			if strings.Contains(tag, kw) {
				return b.label
			}
		}
	}
	return feedCategory
}
