package settlement

// Entry 是结算批次中的一项：一个供应商一条，无论贡献了多少行。
type Entry struct {
	VendorID  string
	Recipient string
	AmountDue float64
}

// aggregate 按供应商聚合购物车。批次顺序是供应商在购物车中
// 首次出现的顺序，不重新排序，保证结果确定。
// 批次对象每次结算调用都重新构建，从不复用。
func aggregate(lines []Line, policy *Policy) []Entry {
	index := make(map[string]int, len(lines))
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if pos, ok := index[line.VendorID]; ok {
			entries[pos].AmountDue += line.Price
			continue
		}
		recipient, _ := policy.Address(line.VendorID)
		index[line.VendorID] = len(entries)
		entries = append(entries, Entry{
			VendorID:  line.VendorID,
			Recipient: recipient,
			AmountDue: line.Price,
		})
	}
	return entries
}
