package catalog

import (
	"fmt"
	"strings"
)

// Service is one entry of the static service catalog. Entries with an
// empty or informational Requirements block are free services.
type Service struct {
	Name         string
	Requirements string
}

// Catalog is the static, process-wide service list. Entries are numbered
// 1-based in user-facing text and addressed 0-based internally.
type Catalog struct {
	services []Service
}

func New(services []Service) *Catalog {
	return &Catalog{services: services}
}

// Default returns the production service catalog.
func Default() *Catalog {
	return New(defaultServices)
}

// Size returns the number of catalog entries.
func (c *Catalog) Size() int {
	return len(c.services)
}

// At returns the entry at the given 0-based index, or false when the
// index is out of range.
func (c *Catalog) At(index int) (Service, bool) {
	if index < 0 || index >= len(c.services) {
		return Service{}, false
	}
	return c.services[index], true
}

// Find matches raw text against entry names, exact first, then substring.
// Inputs of three characters or fewer never match, to avoid spurious
// short-word collisions.
func (c *Catalog) Find(text string) (Service, int, bool) {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) <= 3 {
		return Service{}, 0, false
	}
	for i, s := range c.services {
		if s.Name == trimmed {
			return s, i, true
		}
	}
	for i, s := range c.services {
		if strings.Contains(s.Name, trimmed) {
			return s, i, true
		}
	}
	return Service{}, 0, false
}

// NumberedList renders the catalog as the numbered list sent to users.
func (c *Catalog) NumberedList() string {
	var b strings.Builder
	for i, s := range c.services {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "*%d* - %s", i+1, s.Name)
	}
	return b.String()
}

// JobsServiceName is the catalog entry whose selection triggers the daily
// jobs digest instead of a requirements-only reply.
const JobsServiceName = "جديد الوظائف"

// IsJobsService reports whether the entry carries the jobs digest side
// effect.
func (s Service) IsJobsService() bool {
	return s.Name == JobsServiceName
}

const paymentFooter = "\n\n💰 تكلفة الخدمة: 20 ريال\n\n💳 للسداد يرجى التحويل على الحسابات الموضحة في صفحة الخدمة."

var defaultServices = []Service{
	{
		Name:         "الضمان الاجتماعي المطور",
		Requirements: "لتسجيلك في الضمان الاجتماعي المطور، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. تاريخ الميلاد\n4. رقم الجوال\n5. العنوان الوطني\n6. الحساب البنكي (الآيبان)\n\n💰 تكلفة الخدمة: 59 ريال\n\n💳 للسداد يرجى التحويل على الحسابات الموضحة في صفحة الخدمة.",
	},
	{
		Name:         "حافز",
		Requirements: "للتسجيل في حافز، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. المؤهل الدراسي وتاريخ التخرج\n4. رقم الجوال\n5. الحساب البنكي (الآيبان)" + paymentFooter,
	},
	{
		Name:         "حساب المواطن",
		Requirements: "للتسجيل في حساب المواطن، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. تاريخ الميلاد\n4. رقم الجوال\n5. بيانات الدخل للأسرة\n6. الحساب البنكي (الآيبان)" + paymentFooter,
	},
	{
		Name:         "ساند",
		Requirements: "للتقديم على ساند (دعم التعطل عن العمل)، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. رقم الجوال\n4. قرار الفصل أو الاستقالة\n5. الحساب البنكي (الآيبان)" + paymentFooter,
	},
	{
		Name:         "قياس",
		Requirements: "للتسجيل في اختبارات قياس، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. تاريخ الميلاد\n4. نوع الاختبار المطلوب\n5. المنطقة والمدينة المفضلة للاختبار" + paymentFooter,
	},
	{
		Name:         "جدارات",
		Requirements: "للتسجيل في منصة جدارات، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. تاريخ الميلاد\n4. المؤهل العلمي (وثيقة التخرج)\n5. السجل الأكاديمي\n6. الخبرات السابقة (إن وجدت)" + paymentFooter,
	},
	{
		Name:         "تمهير",
		Requirements: "للتسجيل في برنامج تمهير، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية\n3. تاريخ الميلاد\n4. وثيقة التخرج (بكالوريوس أو دبلوم)\n5. رقم الجوال\n6. الحساب البنكي (الآيبان)" + paymentFooter,
	},
	{
		Name:         "توطين",
		Requirements: "للاستفادة من دعم توطين، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية (للأفراد) أو بيانات المنشأة\n3. تاريخ الميلاد\n4. العقد الوظيفي\n5. بيانات التأمينات الاجتماعية" + paymentFooter,
	},
	{
		Name:         "إنشاء متجر إلكتروني",
		Requirements: "لإنشاء متجرك الإلكتروني، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الهوية الوطنية (للتوثيق)\n3. اسم المتجر المقترح\n4. نوع النشاط التجاري\n5. رقم الجوال والبريد الإلكتروني\n\n💰 تكلفة الخدمة: 100 ريال\n\n💳 للسداد يرجى التحويل على الحسابات الموضحة في صفحة الخدمة.",
	},
	{
		Name:         "دورة التجارة الإلكترونية",
		Requirements: "للتسجيل في دورة التجارة الإلكترونية، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الجوال\n3. المستوى الحالي في التجارة الإلكترونية (مبتدئ/متوسط)" + paymentFooter,
	},
	{
		Name:         "التدريس من المنزل",
		Requirements: "لخدمة التدريس من المنزل، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. التخصص الدراسي\n3. المراحل الدراسية المستهدفة\n4. الخبرة السابقة (إن وجدت)" + paymentFooter,
	},
	{
		Name:         "التسويق الرقمي",
		Requirements: "لخدمات التسويق الرقمي، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رابط مشروعك أو حسابات التواصل الاجتماعي\n3. الهدف من التسويق (زيادة مبيعات/متابعين)\n4. الميزانية المقترحة (إن وجدت)" + paymentFooter,
	},
	{
		Name:         "زيادة المتابعين",
		Requirements: "لزيادة المتابعين، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رابط الحساب\n3. المنصة (تيك توك، انستقرام، تويتر، إلخ)\n4. العدد المطلوب" + paymentFooter,
	},
	{
		Name:         "إعداد السيرة الذاتية",
		Requirements: "لإعداد سيرتك الذاتية، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. رقم الجوال والإيميل\n3. المؤهلات العلمية\n4. الخبرات العملية\n5. المهارات والدورات" + paymentFooter,
	},
	{
		Name:         "متابعة التوظيف",
		Requirements: "لخدمة متابعة التوظيف، يرجى تزويدنا بالبيانات التالية:\n1. الاسم الثلاثي\n2. السيرة الذاتية الحالية\n3. المسميات الوظيفية المستهدفة\n4. المدن المفضلة للعمل" + paymentFooter,
	},
	{
		Name:         JobsServiceName,
		Requirements: "خدمة مجانية: سيتم إرسال أحدث 20 وظيفة لك يومياً.",
	},
}
