package protocol

import "testing"

func BenchmarkMarshalPosi(b *testing.B) {
	m := &Posi{Values: []float32{37.524, -122.06899, 2500, 0, 0, 90, 1}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUnmarshalDrefResponse(b *testing.B) {
	packet, err := Marshal(&DrefResponse{Values: [][]float32{{1}, make([]float32, 20), {3, 4}}})
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(packet)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var m DrefResponse
		if err := Unmarshal(packet, &m); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRrefStream covers the path every streamed datagram takes.
func BenchmarkRrefStream(b *testing.B) {
	values := make([]RrefValue, 64)
	for i := range values {
		values[i] = RrefValue{Index: int32(i), Value: float32(i) * 1.5}
	}
	packet := MarshalRrefStream(values)
	b.SetBytes(int64(len(packet)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var m RrefStream
		if err := Unmarshal(packet, &m); err != nil {
			b.Fatal(err)
		}
	}
}
