package barcode

import (
	"fmt"

	bb "github.com/boombuler/barcode"
	"github.com/boombuler/barcode/utils"

	"github.com/thereceipt/label-engine/internal/labelerr"
)

const (
	startB      = 104
	stopSymbol  = 106
	maxRunes    = 80
	checkModulo = 103
)

// code128Patterns holds the bar/space widths of each Code128 symbol value,
// starting with a bar. The stop symbol carries its trailing bar.
var code128Patterns = [107]string{
	"212222", "222122", "222221", "121223", "121322", "131222", "122213", "122312",
	"132212", "221213", "221312", "231212", "112232", "122132", "122231", "113222",
	"123122", "123221", "223211", "221132", "221231", "213212", "223112", "312131",
	"311222", "321122", "321221", "312212", "322112", "322211", "212123", "212321",
	"232121", "111323", "131123", "131321", "112313", "132113", "132311", "211313",
	"231113", "231311", "112133", "112331", "132131", "113123", "113321", "133121",
	"313121", "211331", "231131", "213113", "213311", "213131", "311123", "311321",
	"331121", "312113", "312311", "332111", "314111", "221411", "431111", "111224",
	"111422", "121124", "121421", "141122", "141221", "112214", "112412", "122114",
	"122411", "142112", "142211", "241211", "221114", "413111", "241112", "134111",
	"111242", "121142", "121241", "114212", "124112", "124211", "411212", "421112",
	"421211", "212141", "214121", "412121", "111143", "111341", "131141", "114113",
	"114311", "411113", "411311", "113141", "114131", "311141", "411131", "211412",
	"211214", "211232", "2331112",
}

// encodeSetB builds a Code128 symbol that stays in code set B for the whole
// content: start B, one symbol per character, mod 103 check, stop.
func encodeSetB(data string) (bb.BarcodeIntCS, error) {
	runes := []rune(data)
	if len(runes) == 0 || len(runes) > maxRunes {
		return nil, fmt.Errorf("%w: content length %d, want 1 to %d characters",
			labelerr.ErrBarcodeEncoding, len(runes), maxRunes)
	}

	values := make([]int, 0, len(runes)+3)
	values = append(values, startB)
	for _, r := range runes {
		if r < 32 || r > 127 {
			return nil, fmt.Errorf("%w: %q is not in code set B", labelerr.ErrBarcodeEncoding, r)
		}
		values = append(values, int(r)-32)
	}

	sum := startB
	for i, v := range values[1:] {
		sum += (i + 1) * v
	}
	check := sum % checkModulo
	values = append(values, check, stopSymbol)

	bits := utils.NewBitList(len(values) * 11)
	for _, v := range values {
		bar := true
		for _, w := range code128Patterns[v] {
			for n := 0; n < int(w-'0'); n++ {
				bits.AddBit(bar)
			}
			bar = !bar
		}
	}

	return utils.New1DCodeIntCheckSum(bb.TypeCode128, data, bits, check), nil
}
