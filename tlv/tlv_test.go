package tlv

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"remora.dev/agent/bufferqueue"
)

func TestTlv(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TLV Codec Suite")
}

var _ = Describe("TLV Codec", func() {
	var queue *bufferqueue.Queue

	BeforeEach(func() {
		queue = bufferqueue.New()
	})

	Context("Decoding", func() {
		When("the queue holds a complete packet", func() {
			var packet *Packet
			var err error

			BeforeEach(func() {
				encoded := NewPacket(0)
				encoded.AddString(TypeMethod, MethodPatchURL)
				encoded.AddString(TypeTransURL, "/v2/x")
				queue.Append(encoded.Encode())

				packet, err = ReadPacket(queue)
			})

			It("decodes every field", func() {
				Expect(err).ToNot(HaveOccurred(), "failed to decode packet: %s", err)

				method, ok := packet.GetString(TypeMethod)
				Expect(ok).To(BeTrue(), "packet should carry a method field")
				Expect(method).To(Equal(MethodPatchURL))

				newPath, ok := packet.GetString(TypeTransURL)
				Expect(ok).To(BeTrue(), "packet should carry a trans url field")
				Expect(newPath).To(Equal("/v2/x"))
			})

			It("consumes the packet bytes from the queue", func() {
				Expect(queue.IsEmpty()).To(BeTrue())
			})
		})

		When("the queue holds a packet plus trailing bytes", func() {

			BeforeEach(func() {
				encoded := NewPacket(0)
				encoded.AddString(TypeMethod, "core_noop")
				queue.Append(encoded.Encode())
				queue.Append([]byte("trailing"))
			})

			It("consumes only the packet", func() {
				_, err := ReadPacket(queue)
				Expect(err).ToNot(HaveOccurred())
				Expect(queue.DrainAll()).To(Equal([]byte("trailing")))
			})
		})

		When("the queue holds only part of a packet", func() {

			BeforeEach(func() {
				encoded := NewPacket(0)
				encoded.AddString(TypeMethod, MethodPatchURL)
				full := encoded.Encode()
				queue.Append(full[:len(full)-3])
			})

			It("fails and leaves the queue untouched for a later retry", func() {
				before := queue.Len()
				_, err := ReadPacket(queue)
				Expect(err).To(HaveOccurred(), "a partial packet should not decode")
				Expect(queue.Len()).To(Equal(before))
			})
		})

		When("the queue holds garbage", func() {

			BeforeEach(func() {
				queue.Append([]byte{0x00, 0x00, 0x00, 0x02, 0xff, 0xff, 0xff, 0xff})
			})

			It("rejects the impossible packet length", func() {
				_, err := ReadPacket(queue)
				Expect(err).To(HaveOccurred())
			})
		})

		When("asking for a field the packet does not carry", func() {

			BeforeEach(func() {
				encoded := NewPacket(0)
				encoded.AddString(TypeMethod, MethodPatchURL)
				queue.Append(encoded.Encode())
			})

			It("reports the field as absent", func() {
				packet, _ := ReadPacket(queue)
				_, ok := packet.GetString(TypeTransURL)
				Expect(ok).To(BeFalse())
			})
		})
	})
})
